package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

const ttsStreamURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// Synthesizer 火山引擎TTS WebSocket客户端。每次合成打开一条新连接，
// 单次尝试，失败直接上报，由上游决定是否丢弃该段文本。
type Synthesizer struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewSynthesizer 创建TTS客户端。
func NewSynthesizer(cfg config.SpeechConfig) *Synthesizer {
	return &Synthesizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format     string  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	SpeedRatio float32 `json:"speed_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 合成一段目标语言文本，返回完整音频。
func (s *Synthesizer) Synthesize(ctx context.Context, target relaymodel.LanguageTarget, text string) (*relaymodel.SynthesizedAudio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	appKey, accessKey, err := resolveCredentials(s.cfg)
	if err != nil {
		return nil, err
	}

	voice := resolveVoice(target)

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resolveResourceID(voice))
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := s.dialer.DialContext(ctx, ttsStreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected with logid: %s", logid)
		}
	}

	payloadData, err := sonic.Marshal(s.buildRequest(target, voice, text))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	messageBytes, err := EncodeMessage(CreateFullClientRequest(payloadData, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, messageBytes); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	audio, err := s.collectAudio(ctx, conn)
	if err != nil {
		return nil, err
	}

	return &relaymodel.SynthesizedAudio{
		Data:       audio,
		Format:     "mp3",
		SampleRate: s.cfg.SampleRate,
		Code:       target.Code,
	}, nil
}

func (s *Synthesizer) buildRequest(target relaymodel.LanguageTarget, voice, text string) *ttsRequest {
	req := &ttsRequest{}
	req.User.UID = uuid.NewString()
	req.ReqParams.Speaker = voice
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = "mp3"
	req.ReqParams.AudioParams.SampleRate = s.cfg.SampleRate
	req.ReqParams.Language = target.Locale
	return req
}

// collectAudio 读取服务端消息流，拼装完整音频直到会话结束。
func (s *Synthesizer) collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var audioBuffer bytes.Buffer

	deadline := time.Now().Add(s.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				return nil, fmt.Errorf("TTS error message decode failed: %w", decErr)
			}
			return nil, fmt.Errorf("TTS error: %s", string(payload))

		case AudioOnlyServerResponse:
			chunk, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", decErr)
			}
			audioBuffer.Write(chunk)

			if msg.IsLastPacket() {
				return finalizeAudio(&audioBuffer)
			}

		case FullServerResponse:
			payload, decErr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if decErr != nil {
				return nil, fmt.Errorf("failed to decompress TTS response payload: %w", decErr)
			}

			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := sonic.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[tts] failed to unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.Data != "" {
						chunk, b64Err := base64.StdEncoding.DecodeString(serverResp.Data)
						if b64Err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", b64Err)
						}
						audioBuffer.Write(chunk)
					}
				}
			}

			finishedByEvent := msg.Header.MessageFlags == WithEvent && msg.EventType == EventTypeSessionFinished
			if finishedByEvent || msg.IsLastPacket() || serverResp.Sequence < 0 {
				return finalizeAudio(&audioBuffer)
			}

		default:
			log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func finalizeAudio(buf *bytes.Buffer) ([]byte, error) {
	if buf.Len() == 0 {
		return nil, fmt.Errorf("TTS audio is empty")
	}
	return buf.Bytes(), nil
}
