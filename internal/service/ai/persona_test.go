package ai

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptUsesDefaultPersona(t *testing.T) {
	prompt := BuildSystemPrompt("")

	if !strings.Contains(prompt, DefaultPersonaPrompt) {
		t.Fatal("expected default persona in prompt")
	}
	if !strings.Contains(prompt, "converted to speech") {
		t.Fatal("expected speech style rules in prompt")
	}
}

func TestBuildSystemPromptKeepsConfiguredPersona(t *testing.T) {
	persona := "You are Starkchan, a playful engineer."
	prompt := BuildSystemPrompt("  " + persona + "  ")

	if !strings.HasPrefix(prompt, persona) {
		t.Fatalf("expected prompt to start with configured persona, got %q", prompt)
	}
	if strings.Contains(prompt, DefaultPersonaPrompt) {
		t.Fatal("default persona must not leak into configured prompt")
	}
	if !strings.Contains(prompt, "converted to speech") {
		t.Fatal("expected speech style rules in prompt")
	}
}
