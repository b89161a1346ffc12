package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// ReplyStreamer is the slice of the AI service this handler consumes.
type ReplyStreamer interface {
	StreamingEnabled() bool
	Reply(ctx context.Context, utterance string) (string, error)
	ReplyStream(ctx context.Context, utterance string) (*schema.StreamReader[*schema.Message], error)
}

// Handler streams reply deltas over Server-Sent Events. It is a text-only
// debugging surface for the inference path; the voice pipeline does not
// go through it.
type Handler struct {
	aiService ReplyStreamer
}

// New creates a stream handler.
func New(aiSvc ReplyStreamer) *Handler {
	return &Handler{aiService: aiSvc}
}

// StreamResponse is one SSE chunk.
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleReplyStream generates a reply for the message and streams it as SSE
// deltas followed by the merged final message.
func (h *Handler) HandleReplyStream(ctx context.Context, w http.ResponseWriter, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	h.sendSSE(w, flusher, StreamResponse{Event: "start"})

	content, err := h.dispatchReply(ctx, w, flusher, userMessage)
	if err != nil {
		h.sendSSEError(w, flusher, fmt.Sprintf("reply generation failed: %v", err))
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "end", Finished: true})
	log.Printf("[stream] completed reply length=%d", len(content))
	return nil
}

func (h *Handler) dispatchReply(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userMessage string) (string, error) {
	if h.aiService.StreamingEnabled() {
		return h.streamReply(ctx, w, flusher, userMessage)
	}

	content, err := h.aiService.Reply(ctx, userMessage)
	if err != nil {
		return "", err
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "message", Content: content})
	return content, nil
}

func (h *Handler) streamReply(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userMessage string) (string, error) {
	stream, err := h.aiService.ReplyStream(ctx, userMessage)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendSSE(w, flusher, StreamResponse{Event: "delta", Content: chunk.Content})
		}
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "message", Content: merged.Content})
	return merged.Content, nil
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{Event: "error", Error: errorMsg})
}
