package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ErrUnavailable is wrapped by every call on a model built by Unavailable.
var ErrUnavailable = errors.New("upstream model unavailable")

// Service relays a single user message to the upstream chat model.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the relay chain: one user turn, no system prompt, no history.
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile relay chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Reply forwards message upstream once and returns the first completion's text.
func (s *Service) Reply(ctx context.Context, message string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{"message": message})
	if err != nil {
		return "", fmt.Errorf("failed to run relay chain: %w", err)
	}
	if response == nil {
		return "", errors.New("upstream returned no message")
	}

	log.Printf("[ai] upstream replied, length=%d", len(response.Content))
	return response.Content, nil
}

// Unavailable returns a chat model that fails every call with cause. The relay
// uses it when the configured provider cannot be built, so a missing credential
// surfaces per request instead of at startup.
func Unavailable(cause error) model.BaseChatModel {
	return &unavailableModel{cause: cause}
}

type unavailableModel struct {
	cause error
}

func (m *unavailableModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, m.cause)
}

func (m *unavailableModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, m.cause)
}
