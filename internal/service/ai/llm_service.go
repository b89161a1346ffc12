package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/turn"
)

// Service wraps the chat model behind the relay's inference contract. The
// persona instruction and sampling parameters are bound at construction and
// applied to every call; turns carry no history, so each utterance is an
// independent exchange.
type Service struct {
	chatModel    model.ChatModel
	cfg          config.AIConfig
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
}

// NewService creates the AI service from validated configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:    chatModel,
		cfg:          cfg,
		chain:        runnable,
		systemPrompt: BuildSystemPrompt(cfg.PersonaPrompt),
	}, nil
}

// StreamingEnabled indicates whether delta streaming is configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Reply generates one reply for one utterance. It returns trimmed,
// non-empty text or an error wrapping turn.ErrInferenceFailed, never an
// empty string silently.
func (s *Service) Reply(ctx context.Context, utterance string) (string, error) {
	response, err := s.chain.Invoke(ctx, s.chainInput(utterance))
	if err != nil {
		return "", fmt.Errorf("%w: %v", turn.ErrInferenceFailed, err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty reply", turn.ErrInferenceFailed)
	}

	log.Printf("[ai] generated reply length=%d", len(text))
	return text, nil
}

// ReplyStream streams reply deltas for one utterance.
func (s *Service) ReplyStream(ctx context.Context, utterance string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("%w: streaming disabled in configuration", turn.ErrInferenceFailed)
	}

	stream, err := s.chain.Stream(ctx, s.chainInput(utterance))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", turn.ErrInferenceFailed, err)
	}

	return stream, nil
}

func (s *Service) chainInput(utterance string) map[string]any {
	return map[string]any{
		"system": s.systemPrompt,
		"query":  utterance,
	}
}
