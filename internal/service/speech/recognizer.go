package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

const asrStreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

// Recognizer 火山引擎流式语音识别客户端。音频包和识别结果在同一条
// WebSocket连接上全双工流动，每次服务端更新都产出一条转写事件。
type Recognizer struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewRecognizer 创建流式识别客户端。
func NewRecognizer(cfg config.SpeechConfig) *Recognizer {
	return &Recognizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
	}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
}

// Stream 打开一条识别会话：audio上收到的PCM包被转发给识别服务，
// 识别结果以转写事件流返回。返回的channel在会话结束时关闭。
func (r *Recognizer) Stream(ctx context.Context, audio <-chan []byte) (<-chan relaymodel.TranscriptEvent, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", r.cfg.AppID)
	header.Set("X-Api-Access-Key", r.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := r.dialer.DialContext(ctx, asrStreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[asr] connected with logid: %s", logid)
		}
	}

	if err := r.sendSessionConfig(conn, connectID); err != nil {
		conn.Close()
		return nil, err
	}

	events := make(chan relaymodel.TranscriptEvent, 16)

	go r.sendAudio(ctx, conn, audio)
	go r.receiveResults(ctx, conn, events)

	return events, nil
}

func (r *Recognizer) sendSessionConfig(conn *websocket.Conn, connectID string) error {
	req := &asrRequest{}
	req.User.UID = connectID
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Audio.Language = r.cfg.ASRLanguage
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	payload, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal ASR request: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress ASR request: %w", err)
	}

	msgBytes, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode ASR request: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, msgBytes); err != nil {
		return fmt.Errorf("failed to send ASR request: %w", err)
	}
	return nil
}

// sendAudio 把音频通道上的数据逐包转发，直到通道关闭或ctx取消。
// 通道关闭时补发一个空的最后一包，促使服务端尽快吐出最终结果。
func (r *Recognizer) sendAudio(ctx context.Context, conn *websocket.Conn, audio <-chan []byte) {
	// FullClientRequest占用序号1，音频从2开始。
	sequence := int32(2)

	for {
		select {
		case <-ctx.Done():
			r.writeChunk(conn, nil, sequence, true)
			return
		case chunk, ok := <-audio:
			if !ok {
				r.writeChunk(conn, nil, sequence, true)
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := r.writeChunk(conn, chunk, sequence, false); err != nil {
				log.Printf("[asr] failed to send audio chunk: %v", err)
				return
			}
			sequence++
		}
	}
}

func (r *Recognizer) writeChunk(conn *websocket.Conn, chunk []byte, sequence int32, isLast bool) error {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return err
	}

	msgBytes, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, isLast, GzipCompression))
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(r.cfg.Timeout))
	return conn.WriteMessage(websocket.BinaryMessage, msgBytes)
}

// receiveResults 消费服务端响应并产出转写事件。已确定(definite)的
// 分句只产出一次，未确定的尾句作为interim快照反复产出，由下游
// 去重门过滤未变化的文本。
func (r *Recognizer) receiveResults(ctx context.Context, conn *websocket.Conn, events chan<- relaymodel.TranscriptEvent) {
	defer close(events)
	defer conn.Close()

	definiteSeen := 0

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[asr] warning: read failed: %v", err)
			}
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			log.Printf("[asr] warning: failed to decode message: %v", err)
			continue
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				log.Printf("[asr] warning: error payload decode failed: %v", decErr)
			} else {
				log.Printf("[asr] warning: server error: %s", string(payload))
			}
			return

		case FullServerResponse:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				log.Printf("[asr] warning: failed to decompress payload: %v", decErr)
				continue
			}

			var serverResp asrServerMessage
			if err := sonic.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[asr] warning: failed to unmarshal response: %v", err)
				continue
			}

			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				log.Printf("[asr] warning: API error %d: %s", serverResp.Code, serverResp.Message)
				return
			}

			definiteSeen = emitUtterances(events, ctx, serverResp, definiteSeen, msg.IsLastPacket())

			if msg.IsLastPacket() || serverResp.Sequence < 0 {
				return
			}

		default:
			// 其他类型（如音频ACK）直接忽略。
		}
	}
}

func emitUtterances(events chan<- relaymodel.TranscriptEvent, ctx context.Context, resp asrServerMessage, definiteSeen int, lastPacket bool) int {
	utterances := resp.Result.Utterances

	if len(utterances) == 0 {
		if resp.Result.Text != "" {
			sendEvent(ctx, events, relaymodel.TranscriptEvent{
				Text:      resp.Result.Text,
				IsFinal:   lastPacket || resp.Sequence < 0,
				Timestamp: time.Now().UTC(),
			})
		}
		return definiteSeen
	}

	for i, u := range utterances {
		if u.Text == "" {
			continue
		}
		if u.Definite {
			if i < definiteSeen {
				continue
			}
			sendEvent(ctx, events, relaymodel.TranscriptEvent{
				Text:      u.Text,
				IsFinal:   true,
				Timestamp: time.Now().UTC(),
			})
			definiteSeen = i + 1
			continue
		}
		// 未确定尾句作为interim产出。
		sendEvent(ctx, events, relaymodel.TranscriptEvent{
			Text:      u.Text,
			IsFinal:   false,
			Timestamp: time.Now().UTC(),
		})
	}
	return definiteSeen
}

func sendEvent(ctx context.Context, events chan<- relaymodel.TranscriptEvent, ev relaymodel.TranscriptEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
