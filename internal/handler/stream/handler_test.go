package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

type fakeStreamer struct {
	streaming bool
	reply     string
	deltas    []string
	err       error
}

func (f *fakeStreamer) StreamingEnabled() bool { return f.streaming }

func (f *fakeStreamer) Reply(_ context.Context, utterance string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeStreamer) ReplyStream(_ context.Context, utterance string) (*schema.StreamReader[*schema.Message], error) {
	if f.err != nil {
		return nil, f.err
	}

	sr, sw := schema.Pipe[*schema.Message](len(f.deltas))
	go func() {
		defer sw.Close()
		for _, delta := range f.deltas {
			sw.Send(schema.AssistantMessage(delta, nil), nil)
		}
	}()
	return sr, nil
}

func parseSSE(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("failed to decode SSE line %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestHandleReplyStreamNonStreaming(t *testing.T) {
	handler := New(&fakeStreamer{reply: "short answer"})
	rr := httptest.NewRecorder()

	if err := handler.HandleReplyStream(context.Background(), rr, "question"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := parseSSE(t, rr.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Event != "start" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Event != "message" || events[1].Content != "short answer" {
		t.Fatalf("unexpected message event: %+v", events[1])
	}
	if events[2].Event != "end" || !events[2].Finished {
		t.Fatalf("unexpected end event: %+v", events[2])
	}
}

func TestHandleReplyStreamDeltas(t *testing.T) {
	handler := New(&fakeStreamer{streaming: true, deltas: []string{"Thanks, ", "they are ", "elliptic!"}})
	rr := httptest.NewRecorder()

	if err := handler.HandleReplyStream(context.Background(), rr, "I like your curves!"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := parseSSE(t, rr.Body.String())

	var deltas []string
	var final string
	for _, event := range events {
		switch event.Event {
		case "delta":
			deltas = append(deltas, event.Content)
		case "message":
			final = event.Content
		}
	}

	if strings.Join(deltas, "") != "Thanks, they are elliptic!" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
	if final != "Thanks, they are elliptic!" {
		t.Fatalf("unexpected merged message: %q", final)
	}
	if events[len(events)-1].Event != "end" {
		t.Fatalf("expected trailing end event, got %+v", events[len(events)-1])
	}
}

func TestHandleReplyStreamError(t *testing.T) {
	handler := New(&fakeStreamer{streaming: true, err: errors.New("model offline")})
	rr := httptest.NewRecorder()

	if err := handler.HandleReplyStream(context.Background(), rr, "question"); err == nil {
		t.Fatal("expected error")
	}

	events := parseSSE(t, rr.Body.String())
	last := events[len(events)-1]
	if last.Event != "error" || last.Error == "" {
		t.Fatalf("expected error event, got %+v", last)
	}
}
