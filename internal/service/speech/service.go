package speech

import (
	"context"
	"fmt"
	"io"

	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

// ErrEmptyTranscript marks a transcription that succeeded remotely but
// produced no text after trimming. It wraps turn.ErrTranscriptionFailed so
// generic matching still works, while callers that need to distinguish
// "nothing recognized" from "remote failure" can test for it directly.
var ErrEmptyTranscript = fmt.Errorf("%w: empty transcript", turn.ErrTranscriptionFailed)

// Service bundles the ASR and TTS gateway clients behind the narrow
// contracts the session loop and HTTP handlers consume. Immutable after
// construction; safe for concurrent use across sessions.
type Service struct {
	config *Config
	asr    *VolcengineASRClient
	tts    *VolcengineTTSClient
}

// NewService creates the speech service from validated configuration.
func NewService(config *Config) *Service {
	return &Service{
		config: config,
		asr:    NewVolcengineASRClient(config),
		tts:    NewVolcengineTTSClient(config),
	}
}

// Transcribe converts an audio buffer to trimmed, non-empty text.
func (s *Service) Transcribe(ctx context.Context, audio []byte, format, language string) (string, error) {
	return s.asr.Transcribe(ctx, audio, format, language)
}

// Synthesize opens a streaming synthesis session for the text.
func (s *Service) Synthesize(ctx context.Context, text, voice, language string) (*AudioStream, error) {
	return s.tts.Synthesize(ctx, text, voice, language)
}

// SynthesizeToBuffer drains a synthesis stream into one buffer, for callers
// that want the whole clip (the HTTP synthesize endpoint, the probe tool).
func (s *Service) SynthesizeToBuffer(ctx context.Context, text, voice, language string) ([]byte, string, error) {
	stream, err := s.Synthesize(ctx, text, voice, language)
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", err
		}
		audio = append(audio, chunk...)
	}

	if len(audio) == 0 {
		return nil, "", fmt.Errorf("%w: synthesis produced no audio", turn.ErrSynthesisFailed)
	}

	return audio, s.AudioFormat(), nil
}

// AudioFormat returns the container format of synthesized audio.
func (s *Service) AudioFormat() string {
	return s.tts.Format()
}
