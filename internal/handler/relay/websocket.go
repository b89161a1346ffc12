package relay

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechsvc "github.com/zhouzirui/voice-relay/backend/internal/service/speech"
	"github.com/zhouzirui/voice-relay/backend/internal/session"
)

const readTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket upgrades the connection and runs one session over it.
// Voice and language come from query parameters and are fixed for the life
// of the session.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	voice := r.URL.Query().Get("voice")
	if voice == "" {
		voice = h.opts.DefaultVoice
	}
	voice = speechsvc.NormalizeVoiceAlias(voice)

	language := r.URL.Query().Get("language")
	if language == "" {
		language = h.opts.DefaultASRLanguage
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = h.opts.DefaultASRFormat
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// A client may pin its own session identifier to reconnect in place;
	// the registry closes the stale connection when the key collides.
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if h.registry != nil {
		h.registry.Add(sessionID, conn)
		defer h.registry.Remove(sessionID, conn)
	}

	log.Printf("[relay] session %s connected voice=%s language=%s", sessionID, voice, language)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	shared := &sessionConn{Conn: conn}
	go pingLoop(ctx, shared)

	sess := session.New(
		session.Config{ID: sessionID, AudioFormat: h.speechSvc.AudioFormat()},
		shared,
		boundTranscriber{svc: h.speechSvc, format: format, language: language},
		h.aiSvc,
		boundSynthesizer{svc: h.speechSvc, voice: voice, language: h.opts.DefaultTTSLanguage},
	)

	if err := sess.Run(ctx); err != nil && !isExpectedClose(err) {
		log.Printf("[relay] session %s ended: %v", sessionID, err)
		return
	}
	log.Printf("[relay] session %s closed after %d turns", sessionID, sess.Turns())
}

// sessionConn extends the read deadline after every successful read so
// active sessions never time out between turns, and serializes writes so
// the keepalive ping and the session loop never write concurrently. The
// gorilla connection allows only one writer at a time.
type sessionConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (c *sessionConn) ReadMessage() (int, []byte, error) {
	messageType, data, err := c.Conn.ReadMessage()
	if err == nil {
		c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	return messageType, data, err
}

func (c *sessionConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// boundTranscriber fixes the session's audio format and language over the
// speech service's per-call contract.
type boundTranscriber struct {
	svc      SpeechService
	format   string
	language string
}

func (b boundTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return b.svc.Transcribe(ctx, audio, b.format, b.language)
}

// boundSynthesizer fixes the session's voice and language.
type boundSynthesizer struct {
	svc      SpeechService
	voice    string
	language string
}

func (b boundSynthesizer) Synthesize(ctx context.Context, text string) (session.AudioStream, error) {
	return b.svc.Synthesize(ctx, text, b.voice, b.language)
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func pingLoop(ctx context.Context, conn *sessionConn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
