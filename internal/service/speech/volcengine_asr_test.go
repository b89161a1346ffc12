package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	client := NewVolcengineASRClient(&Config{AppID: "app", AccessToken: "token"})

	_, err := client.Transcribe(context.Background(), nil, "wav", "zh-CN")
	if !errors.Is(err, turn.ErrTranscriptionFailed) {
		t.Fatalf("expected transcription failure, got %v", err)
	}
}

func TestBuildASRRequestDefaults(t *testing.T) {
	client := NewVolcengineASRClient(&Config{ASRLanguage: "zh-CN"})

	req := client.buildRequest("uid-1", "", "")

	if req.Audio.Format != "wav" {
		t.Fatalf("expected wav default format, got %s", req.Audio.Format)
	}
	if req.Audio.Language != "zh-CN" {
		t.Fatalf("expected configured language, got %s", req.Audio.Language)
	}
	if req.Request.ModelName != "bigmodel" {
		t.Fatalf("expected bigmodel default, got %s", req.Request.ModelName)
	}
	if req.Request.Corpus != "" {
		t.Fatalf("expected no corpus without hint words, got %q", req.Request.Corpus)
	}
}

func TestBuildASRRequestCarriesHints(t *testing.T) {
	client := NewVolcengineASRClient(&Config{
		ASRHintWords:   []string{"elliptic", "curve"},
		ASRTemperature: 0.1,
	})

	req := client.buildRequest("uid-1", "wav", "en-US")

	if req.Request.Corpus != "elliptic curve" {
		t.Fatalf("expected joined hint words, got %q", req.Request.Corpus)
	}
	if req.Request.Temperature != 0.1 {
		t.Fatalf("expected temperature 0.1, got %v", req.Request.Temperature)
	}
	if req.Audio.Language != "en-US" {
		t.Fatalf("expected per-call language, got %s", req.Audio.Language)
	}
}

func TestAwaitTranscriptCancelAfterUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Upload finished cleanly but the gateway never answers.
	sendErrCh := make(chan error, 1)
	sendErrCh <- nil
	textCh := make(chan string, 1)
	recvErrCh := make(chan error, 1)

	done := make(chan error, 1)
	go func() {
		_, err := awaitTranscript(ctx, sendErrCh, textCh, recvErrCh)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock the transcript wait")
	}
}

func TestAwaitTranscriptDeliversTextAfterUpload(t *testing.T) {
	sendErrCh := make(chan error, 1)
	sendErrCh <- nil
	textCh := make(chan string, 1)
	textCh <- "I like your curves!"
	recvErrCh := make(chan error, 1)

	text, err := awaitTranscript(context.Background(), sendErrCh, textCh, recvErrCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "I like your curves!" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestAwaitTranscriptSendFailure(t *testing.T) {
	sendErrCh := make(chan error, 1)
	sendErrCh <- errors.New("connection reset")
	textCh := make(chan string, 1)
	recvErrCh := make(chan error, 1)

	_, err := awaitTranscript(context.Background(), sendErrCh, textCh, recvErrCh)
	if err == nil || err.Error() != "failed to send audio data: connection reset" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJoinUtterances(t *testing.T) {
	got := joinUtterances([]asrUtterance{
		{Text: "I like"},
		{Text: "your curves!"},
	})
	if got != "I like your curves!" {
		t.Fatalf("unexpected joined text: %q", got)
	}
}

func TestResolveCredentials(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *Config
		wantErr bool
		token   string
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "missing token", cfg: &Config{AppID: "app"}, wantErr: true},
		{name: "token present", cfg: &Config{AppID: "app", AccessToken: "tok"}, token: "tok"},
		{name: "api key fallback", cfg: &Config{AppID: "app", APIKey: "key"}, token: "key"},
	}

	for _, tc := range cases {
		_, token, err := resolveCredentials(tc.cfg)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if token != tc.token {
			t.Errorf("%s: expected token %q, got %q", tc.name, tc.token, token)
		}
	}
}
