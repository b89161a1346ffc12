package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

// Transport is the frame-level connection the session owns exclusively.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Transcriber converts one audio buffer to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Responder generates one reply for one utterance.
type Responder interface {
	Reply(ctx context.Context, utterance string) (string, error)
}

// AudioStream yields synthesized audio chunks in order. Recv returns io.EOF
// at end of stream; any other error is terminal for the stream.
type AudioStream interface {
	Recv() ([]byte, error)
	Close() error
}

// Synthesizer opens a streaming synthesis for one reply text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// Config carries the connection-scoped parameters fixed at accept time.
type Config struct {
	ID          string
	AudioFormat string
}

// Session drives the turn loop for one connection. Turns run strictly
// sequentially on the caller's goroutine; the transport is never shared.
type Session struct {
	id          string
	audioFormat string
	transport   Transport
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	turns       uint64
}

// New assembles a session over an accepted transport.
func New(cfg Config, transport Transport, transcriber Transcriber, responder Responder, synthesizer Synthesizer) *Session {
	return &Session{
		id:          cfg.ID,
		audioFormat: cfg.AudioFormat,
		transport:   transport,
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Turns returns how many turns have started.
func (s *Session) Turns() uint64 { return s.turns }

// inboundFrame is the JSON shape of a client text frame. Binary frames skip
// this envelope and are taken as raw audio.
type inboundFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type outboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Turn      uint64 `json:"turn,omitempty"`
	Utterance string `json:"utterance,omitempty"`
	Text      string `json:"text,omitempty"`
	Format    string `json:"format,omitempty"`
	Chunks    int    `json:"chunks,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Run executes the session until the transport fails or the peer leaves.
// Turn-scoped faults are reported to the client and the loop resumes;
// only transport errors end the session.
func (s *Session) Run(ctx context.Context) error {
	if err := s.sendJSON(outboundFrame{Type: "connected", SessionID: s.id}); err != nil {
		return fmt.Errorf("failed to send connected frame: %w", err)
	}

	for {
		messageType, data, err := s.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[session] %s read error: %v", s.id, err)
			}
			return err
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if err := s.runTurn(ctx, messageType, data); err != nil {
			var turnErr *turn.Error
			if errors.As(err, &turnErr) {
				log.Printf("[session] %s %v", s.id, turnErr)
				if sendErr := s.sendTurnError(turnErr); sendErr != nil {
					return sendErr
				}
				continue
			}
			// Transport fault mid-turn: abandon the turn, no further sends.
			log.Printf("[session] %s transport error on turn %d: %v", s.id, s.turns, err)
			return err
		}
	}
}

func (s *Session) runTurn(ctx context.Context, messageType int, data []byte) error {
	s.turns++
	n := s.turns

	inbound, err := decodeInbound(messageType, data)
	if err != nil {
		return turn.Fail(turn.StageReceive, n, err)
	}

	utterance, err := s.resolveUtterance(ctx, n, inbound)
	if err != nil {
		return err
	}

	if err := s.sendJSON(outboundFrame{Type: "turn", Turn: n, Utterance: utterance}); err != nil {
		return err
	}

	reply, err := s.responder.Reply(ctx, utterance)
	if err != nil {
		return turn.Fail(turn.StageInfer, n, err)
	}

	if err := s.sendJSON(outboundFrame{Type: "reply", Turn: n, Text: reply}); err != nil {
		return err
	}

	return s.streamAudio(ctx, n, reply)
}

// resolveUtterance produces the turn's text: the trimmed text payload for a
// text frame, or the transcript for an audio frame.
func (s *Session) resolveUtterance(ctx context.Context, n uint64, inbound turn.Inbound) (string, error) {
	switch inbound.Kind {
	case turn.KindText:
		utterance := strings.TrimSpace(inbound.Text)
		if utterance == "" {
			return "", turn.Fail(turn.StageReceive, n, turn.ErrEmptyUtterance)
		}
		return utterance, nil

	case turn.KindAudio:
		utterance, err := s.transcriber.Transcribe(ctx, inbound.Audio)
		if err != nil {
			return "", turn.Fail(turn.StageTranscribe, n, err)
		}
		utterance = strings.TrimSpace(utterance)
		if utterance == "" {
			return "", turn.Fail(turn.StageTranscribe, n, turn.ErrEmptyUtterance)
		}
		return utterance, nil

	default:
		return "", turn.Fail(turn.StageReceive, n, turn.ErrMalformedInput)
	}
}

// streamAudio synthesizes the reply and forwards chunks as binary frames in
// the order received. Chunks already delivered before a mid-stream failure
// stand; the client learns the stream is incomplete from the error frame.
func (s *Session) streamAudio(ctx context.Context, n uint64, reply string) error {
	stream, err := s.synthesizer.Synthesize(ctx, reply)
	if err != nil {
		return turn.Fail(turn.StageSynthesize, n, err)
	}
	defer stream.Close()

	if err := s.sendJSON(outboundFrame{Type: "audio_start", Turn: n, Format: s.audioFormat}); err != nil {
		return err
	}

	chunks := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return turn.Fail(turn.StageStream, n, err)
		}
		if len(chunk) == 0 {
			continue
		}
		if err := s.transport.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
		chunks++
	}

	log.Printf("[session] %s turn %d streamed %d chunks", s.id, n, chunks)
	return s.sendJSON(outboundFrame{Type: "audio_end", Turn: n, Chunks: chunks})
}

// decodeInbound classifies a client frame. Binary frames are raw audio; text
// frames carry a JSON envelope with type "text" or "audio" (base64 payload).
func decodeInbound(messageType int, data []byte) (turn.Inbound, error) {
	if messageType == websocket.BinaryMessage {
		if len(data) == 0 {
			return turn.Inbound{}, fmt.Errorf("%w: empty binary frame", turn.ErrMalformedInput)
		}
		return turn.AudioInput(data), nil
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return turn.Inbound{}, fmt.Errorf("%w: invalid JSON frame: %v", turn.ErrMalformedInput, err)
	}

	switch frame.Type {
	case "text":
		return turn.TextInput(frame.Text), nil
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			return turn.Inbound{}, fmt.Errorf("%w: invalid base64 audio: %v", turn.ErrMalformedInput, err)
		}
		if len(audio) == 0 {
			return turn.Inbound{}, fmt.Errorf("%w: empty audio payload", turn.ErrMalformedInput)
		}
		return turn.AudioInput(audio), nil
	default:
		return turn.Inbound{}, fmt.Errorf("%w: unknown frame type %q", turn.ErrMalformedInput, frame.Type)
	}
}

func (s *Session) sendTurnError(turnErr *turn.Error) error {
	return s.sendJSON(outboundFrame{
		Type:    "error",
		Turn:    turnErr.Turn,
		Stage:   string(turnErr.Stage),
		Message: faultMessage(turnErr.Err),
	})
}

// faultMessage maps a fault to client-facing text. Remote-service details
// stay in the server log.
func faultMessage(err error) string {
	switch {
	case errors.Is(err, turn.ErrEmptyUtterance):
		return "empty utterance"
	case errors.Is(err, turn.ErrMalformedInput):
		return "malformed input"
	case errors.Is(err, turn.ErrTranscriptionFailed):
		return "transcription failed"
	case errors.Is(err, turn.ErrInferenceFailed):
		return "inference failed"
	case errors.Is(err, turn.ErrSynthesisFailed):
		return "synthesis failed"
	default:
		return "turn failed"
	}
}

func (s *Session) sendJSON(frame outboundFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return s.transport.WriteMessage(websocket.TextMessage, payload)
}
