package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

const ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// VolcengineTTSClient synthesizes speech over the gateway streaming
// endpoint. Synthesize returns as soon as the request is accepted; audio
// chunks are pulled from the returned AudioStream as the gateway produces
// them, so the first chunk can be forwarded before the full length is known.
type VolcengineTTSClient struct {
	config *Config
	dialer *websocket.Dialer
}

// NewVolcengineTTSClient creates the TTS client.
func NewVolcengineTTSClient(config *Config) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type ttsGatewayRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

// Synthesize opens a synthesis session for the text and returns the chunk
// stream. Failures before the first chunk (bad credentials, rejected
// request) are reported here; mid-stream failures surface from Recv.
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, text, voice, language string) (*AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", turn.ErrSynthesisFailed)
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", turn.ErrSynthesisFailed, err)
	}

	speaker := NormalizeVoiceAlias(strings.TrimSpace(voice))
	if speaker == "" {
		speaker = strings.TrimSpace(c.config.TTSVoice)
	}

	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resolveTTSResourceID(speaker))
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, ttsEndpoint, header)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to TTS gateway: %v", turn.ErrSynthesisFailed, err)
	}

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected logid=%s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(text, speaker, language))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to marshal TTS request: %v", turn.ErrSynthesisFailed, err)
	}

	frame, err := EncodeMessage(NewFullClientRequest(payload, NoCompression))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to encode TTS request: %v", turn.ErrSynthesisFailed, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to send TTS request: %v", turn.ErrSynthesisFailed, err)
	}

	return &AudioStream{conn: conn, requestID: connectID}, nil
}

// Format returns the audio container the stream chunks are encoded in.
func (c *VolcengineTTSClient) Format() string {
	format := strings.TrimSpace(c.config.TTSFormat)
	if format == "" || format == "wav" {
		// The streaming endpoint does not emit wav containers.
		format = "mp3"
	}
	return format
}

func (c *VolcengineTTSClient) buildRequest(text, speaker, language string) *ttsGatewayRequest {
	req := &ttsGatewayRequest{}
	req.User.UID = uuid.NewString()

	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = c.Format()
	req.ReqParams.AudioParams.SampleRate = 24000
	req.ReqParams.AudioParams.EnableTimestamp = true

	if c.config.TTSSpeed > 0 && c.config.TTSSpeed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = c.config.TTSSpeed
	}
	if c.config.TTSVolume > 0 && c.config.TTSVolume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = c.config.TTSVolume
	}

	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	if language != "" {
		req.ReqParams.Language = language
	}

	req.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return req
}

// resolveTTSResourceID picks the gateway resource matching the speaker
// family: cloned voices need the megatts resource, seed/bigtts voices the
// seed resource, everything else the default service type.
func resolveTTSResourceID(voice string) string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return defaultResource
	}
	if strings.HasPrefix(voice, "S_") {
		return megaResource
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "mars", "venus", "jupiter", "uranus"} {
		if strings.Contains(normalized, hint) {
			return seedResource
		}
	}

	return defaultResource
}

// NormalizeVoiceAlias maps friendly voice aliases to gateway speaker IDs.
// Unknown values pass through unchanged.
func NormalizeVoiceAlias(voice string) string {
	aliases := map[string]string{
		"relay-default": "zh_female_vv_venus_bigtts",
		"warm-host":     "zh_female_vv_uranus_bigtts",
		"witty-guide":   "zh_male_M392_conversation_wvae_bigtts",
		"en-default":    "en_female_amy_jupiter_bigtts",
	}

	key := strings.ToLower(strings.TrimSpace(voice))
	if mapped, ok := aliases[key]; ok {
		return mapped
	}
	return strings.TrimSpace(voice)
}
