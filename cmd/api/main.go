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

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/handler"
	"github.com/zhouzirui/voice-relay/backend/internal/service/ai"
	"github.com/zhouzirui/voice-relay/backend/internal/service/speech"
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

	// Every remote service is required; refuse to start half-configured.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	log.Println("AI service initialized successfully")

	speechConfig := &speech.Config{
		AppID:          cfg.Speech.AppID,
		AccessToken:    cfg.Speech.AccessToken,
		APIKey:         cfg.Speech.APIKey,
		ASRModel:       cfg.Speech.ASRModel,
		ASRLanguage:    cfg.Speech.ASRLanguage,
		ASRHintWords:   cfg.Speech.ASRHintWords,
		ASRTemperature: cfg.Speech.ASRTemperature,
		TTSVoice:       cfg.Speech.TTSVoice,
		TTSSpeed:       cfg.Speech.TTSSpeed,
		TTSVolume:      cfg.Speech.TTSVolume,
		TTSLanguage:    cfg.Speech.TTSLanguage,
		TTSFormat:      cfg.Speech.TTSFormat,
		TimeoutSeconds: cfg.Speech.Timeout,
	}
	speechService := speech.NewService(speechConfig)
	log.Println("Speech service initialized successfully")

	registry := speech.NewSessionRegistry()

	router := handler.NewRouter(aiService, speechService, registry, cfg.Speech)

	startServer(ctx, cfg.Server, router, registry)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, registry *speech.SessionRegistry) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Voice relay backend listening on %s", addr)
	if err := runServer(ctx, srv, registry); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server, registry *speech.SessionRegistry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		registry.CloseAll()
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
