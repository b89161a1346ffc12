package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ARK_MODEL", "test-model")
	t.Setenv("ARK_API_KEY", "test-key")
	t.Setenv("SPEECH_APP_ID", "test-app")
	t.Setenv("SPEECH_ACCESS_TOKEN", "test-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Server.Addr)
	}
	if cfg.Speech.TTSVoice != "relay-default" {
		t.Fatalf("unexpected default voice: %s", cfg.Speech.TTSVoice)
	}
	if cfg.Speech.ASRLanguage != "zh-CN" {
		t.Fatalf("unexpected default language: %s", cfg.Speech.ASRLanguage)
	}
	if !cfg.AI.StreamResponse {
		t.Fatal("expected streaming enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateReportsMissingCredentials(t *testing.T) {
	t.Setenv("ARK_MODEL", "")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_ACCESS_KEY", "")
	t.Setenv("ARK_SECRET_KEY", "")
	t.Setenv("SPEECH_APP_ID", "")
	t.Setenv("SPEECH_ACCESS_TOKEN", "")
	t.Setenv("SPEECH_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"ARK_MODEL", "ARK_API_KEY", "SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in error, got: %v", name, err)
		}
	}
}

func TestValidateAcceptsAccessKeyPair(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_ACCESS_KEY", "ak")
	t.Setenv("ARK_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected access/secret pair to validate, got %v", err)
	}
}

func TestLoadRejectsInvalidOptionalValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ARK_TEMPERATURE", "hot")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable ARK_TEMPERATURE")
	}
}

func TestLoadParsesOptionalValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ARK_TEMPERATURE", "0.7")
	t.Setenv("ARK_MAX_TOKENS", "256")
	t.Setenv("ARK_STREAM", "false")
	t.Setenv("SPEECH_TTS_SPEED", "1.5")
	t.Setenv("SPEECH_ASR_HINT_WORDS", "elliptic, curve ,")
	t.Setenv("PERSONA_PROMPT", "You are Starkchan.")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.7 {
		t.Fatalf("unexpected temperature: %v", cfg.AI.Temperature)
	}
	if cfg.AI.MaxTokens == nil || *cfg.AI.MaxTokens != 256 {
		t.Fatalf("unexpected max tokens: %v", cfg.AI.MaxTokens)
	}
	if cfg.AI.StreamResponse {
		t.Fatal("expected streaming disabled")
	}
	if cfg.AI.PersonaPrompt != "You are Starkchan." {
		t.Fatalf("unexpected persona prompt: %q", cfg.AI.PersonaPrompt)
	}
	if cfg.Speech.TTSSpeed != 1.5 {
		t.Fatalf("unexpected speed: %v", cfg.Speech.TTSSpeed)
	}
	if len(cfg.Speech.ASRHintWords) != 2 || cfg.Speech.ASRHintWords[0] != "elliptic" || cfg.Speech.ASRHintWords[1] != "curve" {
		t.Fatalf("unexpected hint words: %v", cfg.Speech.ASRHintWords)
	}
}

func TestLoadServerConfigVariants(t *testing.T) {
	setRequiredEnv(t)

	cases := []struct {
		port string
		want string
	}{
		{port: "9000", want: ":9000"},
		{port: ":9001", want: ":9001"},
		{port: "127.0.0.1:9002", want: "127.0.0.1:9002"},
	}

	for _, tc := range cases {
		t.Setenv("PORT", tc.port)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load with PORT=%s err: %v", tc.port, err)
		}
		if cfg.Server.Addr != tc.want {
			t.Fatalf("PORT=%s: expected %s, got %s", tc.port, tc.want, cfg.Server.Addr)
		}
	}
}
