package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/luoqisheng/echobridge/internal/config"
	"github.com/luoqisheng/echobridge/internal/handler"
	"github.com/luoqisheng/echobridge/internal/service/publish"
	relayservice "github.com/luoqisheng/echobridge/internal/service/relay"
	"github.com/luoqisheng/echobridge/internal/service/speech"
	"github.com/luoqisheng/echobridge/internal/service/translate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}

	translator, err := translate.NewService(ctx, chatModel)
	if err != nil {
		log.Fatalf("failed to initialize translator: %v", err)
	}

	recognizer := speech.NewRecognizer(cfg.Speech)
	synthesizer := speech.NewSynthesizer(cfg.Speech)
	publisher := publish.NewClient(cfg.Room)
	defer publisher.CloseAll()

	relaySvc := relayservice.NewService(
		cfg.Relay,
		relayservice.TimedTranslator(translator),
		relayservice.TimedSynthesizer(synthesizer),
		relayservice.TimedPublisher(publisher),
	)

	// 采集端通过 /api/ingest 推送的PCM帧经这条通道进入识别器。
	audio := make(chan []byte, 64)

	go relaySvc.Run(ctx, recognizer, audio)

	router := handler.NewRouter(relaySvc, cfg.Room, audio)

	startServer(ctx, cfg.Server, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := relaySvc.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: relay drain incomplete: %v", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("EchoBridge relay listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
