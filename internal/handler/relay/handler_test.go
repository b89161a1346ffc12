package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	speechsvc "github.com/zhouzirui/voice-relay/backend/internal/service/speech"
	"github.com/zhouzirui/voice-relay/backend/internal/session"
	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

type fakeStream struct {
	chunks [][]byte
	next   int
}

func (f *fakeStream) Recv() ([]byte, error) {
	if f.next >= len(f.chunks) {
		return nil, io.EOF
	}
	chunk := f.chunks[f.next]
	f.next++
	return chunk, nil
}

func (f *fakeStream) Close() error { return nil }

type fakeSpeech struct {
	transcript    string
	transcribeErr error
	chunks        [][]byte
	synthesizeErr error

	lastFormat   string
	lastLanguage string
	lastVoice    string
}

func (f *fakeSpeech) Transcribe(_ context.Context, audio []byte, format, language string) (string, error) {
	f.lastFormat = format
	f.lastLanguage = language
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, voice, language string) (session.AudioStream, error) {
	f.lastVoice = voice
	if f.synthesizeErr != nil {
		return nil, f.synthesizeErr
	}
	return &fakeStream{chunks: f.chunks}, nil
}

func (f *fakeSpeech) SynthesizeToBuffer(ctx context.Context, text, voice, language string) ([]byte, string, error) {
	stream, err := f.Synthesize(ctx, text, voice, language)
	if err != nil {
		return nil, "", err
	}
	var audio []byte
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		audio = append(audio, chunk...)
	}
	return audio, "mp3", nil
}

func (f *fakeSpeech) AudioFormat() string { return "mp3" }

type fakeAI struct {
	replies map[string]string
	err     error
}

func (f *fakeAI) Reply(_ context.Context, utterance string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if reply, ok := f.replies[utterance]; ok {
		return reply, nil
	}
	return "re: " + utterance, nil
}

func newTestRouter(speech SpeechService, ai AIService) (http.Handler, *speechsvc.SessionRegistry) {
	registry := speechsvc.NewSessionRegistry()
	h := New(speech, ai, registry, Options{})
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		h.RegisterRoutes(api)
	})
	return r, registry
}

func postJSON(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestTranscribeHappyPath(t *testing.T) {
	fake := &fakeSpeech{transcript: "hello there"}
	router, _ := newTestRouter(fake, &fakeAI{})

	rr := postJSON(t, router, "/api/transcribe", map[string]string{
		"audio":    base64.StdEncoding.EncodeToString([]byte("pcm-bytes")),
		"format":   "wav",
		"language": "en-US",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	var resp transcribeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Text != "hello there" {
		t.Fatalf("unexpected transcript: %q", resp.Text)
	}
	if fake.lastFormat != "wav" || fake.lastLanguage != "en-US" {
		t.Fatalf("request options not forwarded: format=%s language=%s", fake.lastFormat, fake.lastLanguage)
	}
}

func TestTranscribeRejectsInvalidBase64(t *testing.T) {
	router, _ := newTestRouter(&fakeSpeech{}, &fakeAI{})

	rr := postJSON(t, router, "/api/transcribe", map[string]string{"audio": "!!not-base64!!"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	router, _ := newTestRouter(&fakeSpeech{}, &fakeAI{})

	rr := postJSON(t, router, "/api/transcribe", map[string]string{"audio": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTranscribeEmptyTranscriptIsClientError(t *testing.T) {
	fake := &fakeSpeech{transcribeErr: speechsvc.ErrEmptyTranscript}
	router, _ := newTestRouter(fake, &fakeAI{})

	payload := map[string]string{"audio": base64.StdEncoding.EncodeToString([]byte("silence"))}

	// Same input, same outcome on repeat calls.
	for i := 0; i < 2; i++ {
		rr := postJSON(t, router, "/api/transcribe", payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("call %d: expected 400, got %d", i, rr.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] != "no speech recognized in audio" {
			t.Fatalf("unexpected error message: %q", resp["error"])
		}
	}
}

func TestTranscribeRemoteFailureIsGatewayError(t *testing.T) {
	fake := &fakeSpeech{transcribeErr: fmt.Errorf("%w: gateway timeout", turn.ErrTranscriptionFailed)}
	router, _ := newTestRouter(fake, &fakeAI{})

	rr := postJSON(t, router, "/api/transcribe", map[string]string{
		"audio": base64.StdEncoding.EncodeToString([]byte("pcm")),
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	router, _ := newTestRouter(&fakeSpeech{}, &fakeAI{})

	rr := postJSON(t, router, "/api/synthesize", map[string]string{"text": "   "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	fake := &fakeSpeech{chunks: [][]byte{[]byte("AB"), []byte("CD")}}
	router, _ := newTestRouter(fake, &fakeAI{})

	rr := postJSON(t, router, "/api/synthesize", map[string]string{"text": "hello"})
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mp3" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if rr.Body.String() != "ABCD" {
		t.Fatalf("unexpected audio body: %q", rr.Body.String())
	}
}

func TestSynthesizeRemoteFailure(t *testing.T) {
	fake := &fakeSpeech{synthesizeErr: fmt.Errorf("%w: gateway reset", turn.ErrSynthesisFailed)}
	router, _ := newTestRouter(fake, &fakeAI{})

	rr := postJSON(t, router, "/api/synthesize", map[string]string{"text": "hello"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestHealthReportsSessions(t *testing.T) {
	router, _ := newTestRouter(&fakeSpeech{}, &fakeAI{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
}
