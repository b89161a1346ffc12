package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/voice-relay/backend/internal/middleware"
	aiService "github.com/zhouzirui/voice-relay/backend/internal/service/ai"
	speechService "github.com/zhouzirui/voice-relay/backend/internal/service/speech"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(aiSvc *aiService.Service, speechSvc *speechService.Service, registry *speechService.SessionRegistry, speechCfg config.SpeechConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	relayHandler := relay.New(relay.NewSpeechAdapter(speechSvc), aiSvc, registry, relay.Options{
		DefaultVoice:       speechCfg.TTSVoice,
		DefaultASRLanguage: speechCfg.ASRLanguage,
		DefaultTTSLanguage: speechCfg.TTSLanguage,
	})
	streamHandler := stream.New(aiSvc)

	r.Route("/api", func(api chi.Router) {
		relayHandler.RegisterRoutes(api)

		// SSE debugging surface for the inference path.
		api.Get("/reply/stream", func(w http.ResponseWriter, r *http.Request) {
			userMessage := r.URL.Query().Get("message")
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleReplyStream(r.Context(), w, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}
