package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

type fakeConn struct {
	mu       sync.Mutex
	jsons    []any
	binaries [][]byte
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.jsons = append(f.jsons, v)
	return nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.binaries = append(f.binaries, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testClient(dial dialFunc) *Client {
	return &Client{
		cfg: config.RoomConfig{
			URL:       "wss://rooms.example.com/ws",
			APIKey:    "test-key",
			APISecret: "test-secret",
			TokenTTL:  time.Hour,
		},
		dial:  dial,
		rooms: make(map[string]*roomEntry),
	}
}

func TestPublishAudioReusesConnection(t *testing.T) {
	dials := 0
	conn := &fakeConn{}
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		dials++
		return conn, nil
	})

	payload := []byte{0xFF, 0xF3, 0x01, 0x02}
	audio := &relaymodel.SynthesizedAudio{Data: payload, Format: "mp3", Code: "kr"}

	for i := 0; i < 3; i++ {
		if err := client.PublishAudio(context.Background(), "room_kr", audio); err != nil {
			t.Fatalf("PublishAudio failed: %v", err)
		}
	}

	if dials != 1 {
		t.Fatalf("dials = %d, want 1 (connection should be cached)", dials)
	}
	if len(conn.jsons) != 1 {
		t.Fatalf("announces = %d, want 1", len(conn.jsons))
	}
	announce, ok := conn.jsons[0].(announceMessage)
	if !ok {
		t.Fatalf("first message should be an announce, got %T", conn.jsons[0])
	}
	if announce.Room != "room_kr" || announce.Token == "" {
		t.Fatalf("bad announce: %+v", announce)
	}
	if len(conn.binaries) != 3 {
		t.Fatalf("binary frames = %d, want 3", len(conn.binaries))
	}
	for i, frame := range conn.binaries {
		if !bytes.Equal(frame, payload) {
			t.Errorf("frame %d mutated: got %v, want %v", i, frame, payload)
		}
	}
}

func TestPublishAudioEmptyPayload(t *testing.T) {
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		t.Fatal("dial should not happen for empty payload")
		return nil, nil
	})

	if err := client.PublishAudio(context.Background(), "room_kr", nil); err == nil {
		t.Fatal("expected error for nil audio")
	}
	if err := client.PublishAudio(context.Background(), "room_kr", &relaymodel.SynthesizedAudio{}); err == nil {
		t.Fatal("expected error for empty audio data")
	}
}

func TestTransientErrorKeepsConnection(t *testing.T) {
	dials := 0
	conn := &fakeConn{}
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		dials++
		return conn, nil
	})

	audio := &relaymodel.SynthesizedAudio{Data: []byte{1}, Code: "vn"}
	if err := client.PublishAudio(context.Background(), "room_vn", audio); err != nil {
		t.Fatalf("PublishAudio failed: %v", err)
	}

	conn.writeErr = fmt.Errorf("server is busy")
	if err := client.PublishAudio(context.Background(), "room_vn", audio); err == nil {
		t.Fatal("expected publish error")
	}
	if conn.closed {
		t.Fatal("transient error must not close the connection")
	}

	conn.writeErr = nil
	if err := client.PublishAudio(context.Background(), "room_vn", audio); err != nil {
		t.Fatalf("PublishAudio after transient error failed: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1 (transient error must not evict)", dials)
	}
}

func TestTerminalErrorEvictsConnection(t *testing.T) {
	dials := 0
	first := &fakeConn{}
	second := &fakeConn{}
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	audio := &relaymodel.SynthesizedAudio{Data: []byte{1, 2}, Code: "kr"}
	if err := client.PublishAudio(context.Background(), "room_kr", audio); err != nil {
		t.Fatalf("PublishAudio failed: %v", err)
	}

	first.writeErr = &websocket.CloseError{Code: websocket.CloseGoingAway}
	if err := client.PublishAudio(context.Background(), "room_kr", audio); err == nil {
		t.Fatal("expected publish error on closed connection")
	}
	if !first.closed {
		t.Fatal("terminal error should close the old connection")
	}

	if err := client.PublishAudio(context.Background(), "room_kr", audio); err != nil {
		t.Fatalf("PublishAudio after eviction failed: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2 (redial after eviction)", dials)
	}
	if len(second.binaries) != 1 {
		t.Fatalf("second connection frames = %d, want 1", len(second.binaries))
	}
}

func TestPublishCaption(t *testing.T) {
	conn := &fakeConn{}
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		return conn, nil
	})

	if err := client.PublishCaption(context.Background(), "room_zh", "你好"); err != nil {
		t.Fatalf("PublishCaption failed: %v", err)
	}

	if len(conn.jsons) != 2 {
		t.Fatalf("messages = %d, want announce + caption", len(conn.jsons))
	}
	caption, ok := conn.jsons[1].(captionMessage)
	if !ok {
		t.Fatalf("second message should be a caption, got %T", conn.jsons[1])
	}
	if caption.Room != "room_zh" || caption.Text != "你好" {
		t.Fatalf("bad caption: %+v", caption)
	}
}

func TestCloseAll(t *testing.T) {
	conns := []*fakeConn{{}, {}}
	idx := 0
	client := testClient(func(ctx context.Context, url string, header http.Header) (wireConn, error) {
		conn := conns[idx]
		idx++
		return conn, nil
	})

	audio := &relaymodel.SynthesizedAudio{Data: []byte{9}}
	if err := client.PublishAudio(context.Background(), "room_kr", audio); err != nil {
		t.Fatalf("PublishAudio failed: %v", err)
	}
	if err := client.PublishAudio(context.Background(), "room_vn", audio); err != nil {
		t.Fatalf("PublishAudio failed: %v", err)
	}

	client.CloseAll()

	for i, conn := range conns {
		if !conn.closed {
			t.Errorf("connection %d not closed", i)
		}
	}
	if len(client.rooms) != 0 {
		t.Fatalf("rooms map should be empty after CloseAll")
	}
}
