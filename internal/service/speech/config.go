package speech

// Config carries the remote speech-service settings shared by the ASR and
// TTS clients. Populated from environment configuration at startup and
// never mutated afterwards.
type Config struct {
	AppID       string
	AccessToken string
	APIKey      string

	ASRLanguage    string
	ASRModel       string
	ASRHintWords   []string // domain vocabulary bias for recognition
	ASRTemperature float32  // decoding temperature, kept low for determinism

	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	TTSFormat   string

	TimeoutSeconds int
}
