package turn

// Kind discriminates the decoded variants of client input.
type Kind int

const (
	// KindText carries an utterance typed by the user.
	KindText Kind = iota + 1
	// KindAudio carries raw audio to be transcribed first.
	KindAudio
)

// Inbound is one decoded unit of client input for a single turn.
// Exactly one of Text or Audio is populated, matching Kind.
type Inbound struct {
	Kind  Kind
	Text  string
	Audio []byte
}

// TextInput wraps an utterance string as an inbound message.
func TextInput(text string) Inbound {
	return Inbound{Kind: KindText, Text: text}
}

// AudioInput wraps raw audio bytes as an inbound message.
func AudioInput(audio []byte) Inbound {
	return Inbound{Kind: KindAudio, Audio: audio}
}
