package speech

import (
	"bytes"
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

const asrEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

// audio chunk pacing for the one-shot upload: 16kHz, 16bit, mono, 200ms.
const asrChunkSize = 6400

// VolcengineASRClient performs one-shot transcription over the speech
// gateway WebSocket flow: one full client request, then sequenced audio
// chunks, then a final transcript on the last server packet.
type VolcengineASRClient struct {
	config *Config
	dialer *websocket.Dialer
}

// NewVolcengineASRClient creates the ASR client.
func NewVolcengineASRClient(config *Config) *VolcengineASRClient {
	return &VolcengineASRClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type asrGatewayRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string  `json:"model_name"`
		EnableITN      bool    `json:"enable_itn,omitempty"`
		EnablePunc     bool    `json:"enable_punc,omitempty"`
		ShowUtterances bool    `json:"show_utterances,omitempty"`
		ResultType     string  `json:"result_type,omitempty"`
		EndWindowSize  int     `json:"end_window_size,omitempty"`
		Corpus         string  `json:"corpus,omitempty"`
		Temperature    float32 `json:"temperature,omitempty"`
	} `json:"request"`
}

type asrGatewayResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

// Transcribe uploads the audio buffer and returns the trimmed transcript.
// A blank transcript is a failure, not "the user said nothing": both remote
// errors and empty results wrap turn.ErrTranscriptionFailed.
func (c *VolcengineASRClient) Transcribe(ctx context.Context, audio []byte, format, language string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: no audio data", turn.ErrTranscriptionFailed)
	}

	text, err := c.transcribe(ctx, audio, format, language)
	if err != nil {
		return "", fmt.Errorf("%w: %v", turn.ErrTranscriptionFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	return text, nil
}

func (c *VolcengineASRClient) transcribe(ctx context.Context, audio []byte, format, language string) (string, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return "", err
	}

	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, asrEndpoint, header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to ASR gateway: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[ASR] connected logid=%s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(connectID, format, language))
	if err != nil {
		return "", fmt.Errorf("failed to marshal ASR request: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}

	frame, err := EncodeMessage(NewFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return "", fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Receive concurrently so a gateway error can cancel the upload early.
	textCh := make(chan string, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		text, err := c.receiveTranscript(ctx, conn)
		if err != nil {
			recvErrCh <- err
			return
		}
		textCh <- text
	}()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- c.sendAudio(ctx, conn, audio)
	}()

	return awaitTranscript(ctx, sendErrCh, textCh, recvErrCh)
}

// awaitTranscript waits for the transcript while the upload drains. A
// cancelled context returns immediately regardless of upload progress; the
// caller's deferred conn.Close unblocks the receive goroutine.
func awaitTranscript(ctx context.Context, sendErrCh <-chan error, textCh <-chan string, recvErrCh <-chan error) (string, error) {
	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				return "", fmt.Errorf("failed to send audio data: %w", err)
			}
			sendErrCh = nil
		case text := <-textCh:
			return text, nil
		case err := <-recvErrCh:
			return "", err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *VolcengineASRClient) buildRequest(uid, format, language string) *asrGatewayRequest {
	req := &asrGatewayRequest{}
	req.User.UID = uid

	req.Audio.Format = format
	if req.Audio.Format == "" {
		req.Audio.Format = "wav"
	}
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = c.config.ASRLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = c.config.ASRModel
	if req.Request.ModelName == "" {
		req.Request.ModelName = "bigmodel"
	}
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	// Domain vocabulary hint and decoding temperature bias recognition
	// toward the configured jargon while keeping output deterministic.
	if len(c.config.ASRHintWords) > 0 {
		req.Request.Corpus = strings.Join(c.config.ASRHintWords, " ")
	}
	if c.config.ASRTemperature > 0 {
		req.Request.Temperature = c.config.ASRTemperature
	}

	return req
}

func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// The full client request holds sequence 1; audio starts at 2.
	sequence := int32(2)

	for i := 0; i < len(audio); i += asrChunkSize {
		end := i + asrChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		isLast := end >= len(audio)

		compressed, err := CompressPayload(audio[i:end], GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress audio chunk: %w", err)
		}

		frame, err := EncodeMessage(NewAudioOnlyRequest(compressed, sequence, isLast, GzipCompression))
		if err != nil {
			return fmt.Errorf("failed to encode audio chunk: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}

		sequence++
		if isLast {
			break
		}

		// Pace the upload like a live stream.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	return nil
}

func (c *VolcengineASRClient) receiveTranscript(ctx context.Context, conn *websocket.Conn) (string, error) {
	var finalText string

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read ASR response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("failed to decode ASR frame: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return "", fmt.Errorf("ASR error frame decode failed: %w", err)
			}
			return "", fmt.Errorf("ASR gateway error: %s", string(payload))

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return "", fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var serverResp asrGatewayResponse
			if err := json.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}

			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				return "", fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message)
			}

			candidate := serverResp.Result.Text
			if candidate == "" && len(serverResp.Result.Utterances) > 0 {
				candidate = joinUtterances(serverResp.Result.Utterances)
			}
			if candidate != "" {
				finalText = candidate
			}

			if msg.IsLastPacket() || serverResp.Sequence < 0 {
				return finalText, nil
			}

		default:
			// Audio acks and other frame types carry nothing we need.
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	var builder strings.Builder
	for _, u := range utterances {
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(u.Text)
	}
	return builder.String()
}
