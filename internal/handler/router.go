package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/luoqisheng/echobridge/internal/config"
	"github.com/luoqisheng/echobridge/internal/handler/ingest"
	"github.com/luoqisheng/echobridge/internal/handler/status"
	middlewarePkg "github.com/luoqisheng/echobridge/internal/middleware"
	relayservice "github.com/luoqisheng/echobridge/internal/service/relay"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(relaySvc *relayservice.Service, roomCfg config.RoomConfig, audio chan<- []byte) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	statusHandler := status.New(relaySvc, roomCfg)
	ingestHandler := ingest.New(audio)

	r.Route("/api", func(api chi.Router) {
		statusHandler.RegisterRoutes(api)
		ingestHandler.RegisterRoutes(api)
	})

	return r
}
