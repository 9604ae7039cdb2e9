package ingest

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handler 音频上行入口。采集端通过WebSocket推送二进制PCM帧，
// 这里桥接到识别侧的音频通道。
type Handler struct {
	audio    chan<- []byte
	upgrader websocket.Upgrader
}

// New 创建音频上行处理器。
func New(audio chan<- []byte) *Handler {
	return &Handler{
		audio: audio,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册上行路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ingest", h.handleIngest)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ingest] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ingest] audio source connected from %s", r.RemoteAddr)

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ingest] audio source read error: %v", err)
			} else {
				log.Printf("[ingest] audio source disconnected")
			}
			return
		}

		// 只接受二进制PCM帧，文本帧忽略。
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		select {
		case h.audio <- data:
		case <-ctx.Done():
			return
		}
	}
}
