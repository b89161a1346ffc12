package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	speechsvc "github.com/zhouzirui/voice-relay/backend/internal/service/speech"
	"github.com/zhouzirui/voice-relay/backend/internal/session"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// SpeechService abstracts the speech clients so handlers can be tested
// against fakes.
type SpeechService interface {
	Transcribe(ctx context.Context, audio []byte, format, language string) (string, error)
	Synthesize(ctx context.Context, text, voice, language string) (session.AudioStream, error)
	SynthesizeToBuffer(ctx context.Context, text, voice, language string) ([]byte, string, error)
	AudioFormat() string
}

// AIService abstracts reply generation.
type AIService interface {
	Reply(ctx context.Context, utterance string) (string, error)
}

// NewSpeechAdapter wraps the concrete speech service behind SpeechService.
func NewSpeechAdapter(svc *speechsvc.Service) SpeechService {
	return speechAdapter{svc: svc}
}

type speechAdapter struct {
	svc *speechsvc.Service
}

func (a speechAdapter) Transcribe(ctx context.Context, audio []byte, format, language string) (string, error) {
	return a.svc.Transcribe(ctx, audio, format, language)
}

func (a speechAdapter) Synthesize(ctx context.Context, text, voice, language string) (session.AudioStream, error) {
	stream, err := a.svc.Synthesize(ctx, text, voice, language)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (a speechAdapter) SynthesizeToBuffer(ctx context.Context, text, voice, language string) ([]byte, string, error) {
	return a.svc.SynthesizeToBuffer(ctx, text, voice, language)
}

func (a speechAdapter) AudioFormat() string {
	return a.svc.AudioFormat()
}

// Options carries the per-deployment defaults a connection or request can
// override.
type Options struct {
	DefaultVoice       string
	DefaultASRLanguage string
	DefaultTTSLanguage string
	DefaultASRFormat   string
}

func (o Options) withFallbacks() Options {
	if o.DefaultVoice == "" {
		o.DefaultVoice = "relay-default"
	}
	if o.DefaultASRLanguage == "" {
		o.DefaultASRLanguage = "zh-CN"
	}
	if o.DefaultTTSLanguage == "" {
		o.DefaultTTSLanguage = "zh-CN"
	}
	if o.DefaultASRFormat == "" {
		o.DefaultASRFormat = "wav"
	}
	return o
}

// Handler serves the relay HTTP surface.
type Handler struct {
	speechSvc SpeechService
	aiSvc     AIService
	registry  *speechsvc.SessionRegistry
	opts      Options
}

// New creates the relay handler.
func New(speechSvc SpeechService, aiSvc AIService, registry *speechsvc.SessionRegistry, opts Options) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		aiSvc:     aiSvc,
		registry:  registry,
		opts:      opts.withFallbacks(),
	}
}

// RegisterRoutes mounts the relay endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/relay", func(relayRouter chi.Router) {
		relayRouter.Get("/ws", h.handleWebSocket)
	})
	r.Post("/transcribe", h.handleTranscribe)
	r.Post("/synthesize", h.handleSynthesize)
	r.Get("/health", h.handleHealth)
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// handleTranscribe runs one-shot transcription over a base64 audio payload.
// Client-side problems (bad encoding, silence) map to 400; remote-service
// failures map to 502.
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid base64 audio")
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio is required")
		return
	}

	format := req.Format
	if format == "" {
		format = h.opts.DefaultASRFormat
	}
	language := req.Language
	if language == "" {
		language = h.opts.DefaultASRLanguage
	}

	text, err := h.speechSvc.Transcribe(r.Context(), audio, format, language)
	if err != nil {
		if errors.Is(err, speechsvc.ErrEmptyTranscript) {
			utils.RespondError(w, http.StatusBadRequest, "no speech recognized in audio")
			return
		}
		log.Printf("[relay] transcribe error: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// handleSynthesize assembles one synthesized clip and returns the raw audio.
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice := req.Voice
	if voice == "" {
		voice = h.opts.DefaultVoice
	}
	language := req.Language
	if language == "" {
		language = h.opts.DefaultTTSLanguage
	}

	audio, format, err := h.speechSvc.SynthesizeToBuffer(r.Context(), req.Text, voice, language)
	if err != nil {
		log.Printf("[relay] synthesize error: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		log.Printf("[relay] failed to write audio response: %v", err)
	}
}

// handleHealth reports liveness and the number of open sessions.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if h.registry != nil {
		sessions = h.registry.Len()
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "relay",
		"sessions": sessions,
	})
}
