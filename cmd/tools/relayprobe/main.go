package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// relayprobe dials a running relay, plays one conversational turn, and
// prints every frame it gets back. Manual verification aid for the full
// pipeline; not part of the server.

type controlFrame struct {
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

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	host := flag.String("host", "localhost:8080", "relay host:port")
	text := flag.String("text", "I like your curves!", "utterance to send")
	audioPath := flag.String("audio", "", "send this audio file instead of text")
	voice := flag.String("voice", "", "TTS voice for the session")
	language := flag.String("lang", "", "language code for the session")
	outputPath := flag.String("out", "", "write received audio to this file")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline")

	flag.Parse()

	query := url.Values{}
	if *voice != "" {
		query.Set("voice", *voice)
	}
	if *language != "" {
		query.Set("language", *language)
	}
	target := url.URL{Scheme: "ws", Host: *host, Path: "/api/relay/ws", RawQuery: query.Encode()}

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", target.String(), err)
	}
	defer conn.Close()

	if *audioPath != "" {
		audio, err := os.ReadFile(*audioPath)
		if err != nil {
			log.Fatalf("failed to read audio file: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
			log.Fatalf("failed to send audio: %v", err)
		}
		log.Printf("sent audio turn: %d bytes", len(audio))
	} else {
		payload, _ := json.Marshal(map[string]string{"type": "text", "text": *text})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Fatalf("failed to send text: %v", err)
		}
		log.Printf("sent text turn: %q", *text)
	}

	deadline := time.Now().Add(*timeout)
	conn.SetReadDeadline(deadline)

	var audio []byte
	format := "mp3"
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("read error: %v", err)
		}

		if messageType == websocket.BinaryMessage {
			audio = append(audio, data...)
			log.Printf("<- chunk %d bytes (total %d)", len(data), len(audio))
			continue
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("<- unparseable frame: %s", data)
			continue
		}

		switch frame.Type {
		case "connected":
			log.Printf("<- connected session=%s", frame.SessionID)
		case "turn":
			log.Printf("<- turn %d utterance=%q", frame.Turn, frame.Utterance)
		case "reply":
			log.Printf("<- reply %q", frame.Text)
		case "audio_start":
			if frame.Format != "" {
				format = frame.Format
			}
			log.Printf("<- audio_start format=%s", format)
		case "audio_end":
			log.Printf("<- audio_end chunks=%d", frame.Chunks)
			finish(audio, format, *outputPath)
			return
		case "error":
			log.Fatalf("<- error turn=%d stage=%s message=%q", frame.Turn, frame.Stage, frame.Message)
		default:
			log.Printf("<- %s: %s", frame.Type, data)
		}
	}
}

func finish(audio []byte, format, outputPath string) {
	if len(audio) == 0 {
		log.Println("turn completed with no audio")
		return
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("relay-output-%d.%s", time.Now().Unix(), format)
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		log.Fatalf("failed to write audio file: %v", err)
	}
	log.Printf("wrote %d bytes to %s", len(audio), outputPath)
}
