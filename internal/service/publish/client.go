package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// wireConn 抽象房间侧的WebSocket连接，便于测试替换。
type wireConn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wireConn, error)

// announceMessage 连接建立后的首条入场消息。
type announceMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

type captionMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// roomEntry 单个房间的连接槽位。entry自身的锁保证同一房间
// 同一时刻只有一个goroutine在拨号或写入。
type roomEntry struct {
	mu   sync.Mutex
	conn wireConn
}

// Client 房间发布客户端。每个房间惰性建立一条长连接并缓存复用，
// 终端性断连后驱逐，下次发布时重新拨号。
type Client struct {
	cfg  config.RoomConfig
	dial dialFunc

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

// NewClient 创建房间发布客户端。
func NewClient(cfg config.RoomConfig) *Client {
	dialer := &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	return &Client{
		cfg: cfg,
		dial: func(ctx context.Context, url string, header http.Header) (wireConn, error) {
			conn, _, err := dialer.DialContext(ctx, url, header)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		rooms: make(map[string]*roomEntry),
	}
}

// PublishAudio 把合成音频原样发布到指定房间。
func (c *Client) PublishAudio(ctx context.Context, channel string, audio *relaymodel.SynthesizedAudio) error {
	if audio == nil || len(audio.Data) == 0 {
		return fmt.Errorf("audio payload is empty")
	}

	return c.withConn(ctx, channel, func(conn wireConn) error {
		return conn.WriteMessage(websocket.BinaryMessage, audio.Data)
	})
}

// PublishCaption 发布一条字幕文本到指定房间。
func (c *Client) PublishCaption(ctx context.Context, channel string, text string) error {
	if text == "" {
		return fmt.Errorf("caption text is empty")
	}

	msg := captionMessage{
		Type: "caption",
		Room: channel,
		Text: text,
		At:   time.Now().UnixMilli(),
	}

	return c.withConn(ctx, channel, func(conn wireConn) error {
		return conn.WriteJSON(msg)
	})
}

// withConn 在房间连接上执行一次写操作。拨号和写入都在entry锁内，
// 同一房间不会出现并发写或重复拨号。
func (c *Client) withConn(ctx context.Context, channel string, write func(wireConn) error) error {
	entry := c.entry(channel)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.conn == nil {
		conn, err := c.connect(ctx, channel)
		if err != nil {
			return fmt.Errorf("failed to join room %s: %w", channel, err)
		}
		entry.conn = conn
	}

	if err := write(entry.conn); err != nil {
		if isTerminal(err) {
			log.Printf("[publish] room %s disconnected, evicting connection: %v", channel, err)
			entry.conn.Close()
			entry.conn = nil
		}
		return fmt.Errorf("failed to publish to room %s: %w", channel, err)
	}
	return nil
}

func (c *Client) entry(channel string) *roomEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.rooms[channel]
	if !ok {
		entry = &roomEntry{}
		c.rooms[channel] = entry
	}
	return entry
}

// connect 拨号并发送入场消息。调用方持有entry锁。
func (c *Client) connect(ctx context.Context, channel string) (wireConn, error) {
	identity := "relay-" + uuid.NewString()[:8]

	token, err := MintToken(c.cfg, channel, identity)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	announce := announceMessage{
		Type:     "announce",
		Room:     channel,
		Identity: identity,
		Token:    token,
	}
	if err := conn.WriteJSON(announce); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to announce: %w", err)
	}

	log.Printf("[publish] joined room %s as %s", channel, identity)
	return conn, nil
}

// CloseAll 关闭并清空全部房间连接。
func (c *Client) CloseAll() {
	c.mu.Lock()
	entries := make([]*roomEntry, 0, len(c.rooms))
	for channel, entry := range c.rooms {
		entries = append(entries, entry)
		delete(c.rooms, channel)
	}
	c.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil {
			entry.conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
}

// isTerminal 判断写失败是否意味着连接已不可用。普通的业务侧错误
// 保留连接，连接级错误驱逐后重拨。
func isTerminal(err error) bool {
	if err == nil {
		return false
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	if websocket.IsUnexpectedCloseError(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
