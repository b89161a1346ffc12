package speech

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

// AudioStream is a lazy, finite, non-restartable sequence of synthesized
// audio chunks. Recv blocks until the next chunk is available, returns
// io.EOF when the remote session finishes, and any other error wraps
// turn.ErrSynthesisFailed. Chunks already received stand; a failed stream
// cannot be resumed, only re-synthesized from scratch.
type AudioStream struct {
	conn      *websocket.Conn
	requestID string

	finished  bool
	closeOnce sync.Once
}

type ttsGatewayResponse struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// RequestID returns the gateway request identifier for log correlation.
func (s *AudioStream) RequestID() string { return s.requestID }

// Recv returns the next audio chunk in production order.
func (s *AudioStream) Recv() ([]byte, error) {
	if s.finished {
		return nil, io.EOF
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: reading synthesis stream: %v", turn.ErrSynthesisFailed, err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding synthesis frame: %v", turn.ErrSynthesisFailed, err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("%w: error frame decode failed: %v", turn.ErrSynthesisFailed, derr)
			}
			return nil, fmt.Errorf("%w: gateway error: %s", turn.ErrSynthesisFailed, string(payload))

		case AudioOnlyServerResponse:
			chunk, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("%w: decompressing audio chunk: %v", turn.ErrSynthesisFailed, derr)
			}
			if msg.IsLastPacket() {
				s.finished = true
			}
			if len(chunk) == 0 {
				if s.finished {
					return nil, io.EOF
				}
				continue
			}
			return chunk, nil

		case FullServerResponse:
			chunk, done, perr := s.handleFullResponse(msg)
			if perr != nil {
				return nil, perr
			}
			if done {
				s.finished = true
			}
			if len(chunk) > 0 {
				return chunk, nil
			}
			if s.finished {
				return nil, io.EOF
			}

		default:
			log.Printf("[TTS] unexpected frame type: %d", msg.Header.MessageType)
		}
	}
}

func (s *AudioStream) handleFullResponse(msg *Message) ([]byte, bool, error) {
	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		return nil, false, fmt.Errorf("%w: decompressing response payload: %v", turn.ErrSynthesisFailed, err)
	}

	var serverResp ttsGatewayResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &serverResp); err != nil {
			log.Printf("[TTS] failed to unmarshal response payload: %v", err)
		}
	}

	if serverResp.Code != 0 && serverResp.Code != 3000 {
		return nil, false, fmt.Errorf("%w: API error %d: %s", turn.ErrSynthesisFailed, serverResp.Code, serverResp.Message)
	}
	if serverResp.ReqID != "" {
		s.requestID = serverResp.ReqID
	}

	var chunk []byte
	if serverResp.Data != "" {
		chunk, err = base64.StdEncoding.DecodeString(serverResp.Data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: decoding base64 audio chunk: %v", turn.ErrSynthesisFailed, err)
		}
	}

	finishedByEvent := msg.Header.MessageFlags&WithEvent == WithEvent && msg.EventType == EventSessionFinished
	done := finishedByEvent || msg.IsLastPacket() || serverResp.Sequence < 0

	return chunk, done, nil
}

// Close releases the underlying gateway connection. Safe to call more than
// once and after a Recv error.
func (s *AudioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.finished = true
		err = s.conn.Close()
	})
	return err
}
