package status

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luoqisheng/echobridge/internal/config"
	relayservice "github.com/luoqisheng/echobridge/internal/service/relay"
	"github.com/luoqisheng/echobridge/internal/service/publish"
	"github.com/luoqisheng/echobridge/pkg/utils"
)

// RelayState 状态接口需要的中继服务视图。
type RelayState interface {
	Snapshot() relayservice.Snapshot
	Caption(code string) (string, bool)
	SubscribeCaptions() (<-chan relayservice.Caption, func())
}

// Handler 状态与令牌接口。
type Handler struct {
	relay   RelayState
	roomCfg config.RoomConfig
}

// New 创建状态处理器。
func New(relay RelayState, roomCfg config.RoomConfig) *Handler {
	return &Handler{relay: relay, roomCfg: roomCfg}
}

// RegisterRoutes 注册状态相关路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Post("/token", h.handleToken)
	r.Get("/subtitles/{lang}", h.handleSubtitle)
	r.Get("/subtitles/stream", h.handleSubtitleStream)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.relay.Snapshot())
}

type tokenRequest struct {
	RoomName string `json:"roomName"`
	Identity string `json:"identity"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomName == "" || req.Identity == "" {
		utils.RespondError(w, http.StatusBadRequest, "roomName and identity are required")
		return
	}

	token, err := publish.MintToken(h.roomCfg, req.RoomName, req.Identity)
	if err != nil {
		log.Printf("[status] failed to mint token for room=%s: %v", req.RoomName, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")

	text, ok := h.relay.Caption(lang)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no subtitle for language "+lang)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"lang": lang,
		"text": text,
	})
}

// handleSubtitleStream 以SSE推送实时字幕。
func (h *Handler) handleSubtitleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	captions, cancel := h.relay.SubscribeCaptions()
	defer cancel()

	utils.SendSSEChunk(w, flusher, map[string]any{
		"event":   "status",
		"message": "subtitle stream established",
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[status] closing subtitle stream")
			return
		case caption, ok := <-captions:
			if !ok {
				return
			}
			utils.SendSSEEvent(w, flusher, "subtitle", caption)
		}
	}
}
