package ai

import "strings"

// DefaultPersonaPrompt is used when no persona is configured. The persona
// text itself is opaque deployment configuration, not logic.
const DefaultPersonaPrompt = "You are a friendly, witty voice companion. " +
	"Reply conversationally and stay in character."

// speechStyleRules keep replies short and speakable; long or heavily
// formatted output degrades into unusable synthesized audio.
const speechStyleRules = "IMPORTANT: Your reply is converted to speech. " +
	"Keep answers short and conversational, avoid lists, code and markdown, " +
	"and make every sentence easy to speak aloud."

// BuildSystemPrompt combines the configured persona instruction with the
// fixed speech-output rules.
func BuildSystemPrompt(personaPrompt string) string {
	persona := strings.TrimSpace(personaPrompt)
	if persona == "" {
		persona = DefaultPersonaPrompt
	}

	var builder strings.Builder
	builder.WriteString(persona)
	builder.WriteString("\n\n")
	builder.WriteString(speechStyleRules)
	return builder.String()
}
