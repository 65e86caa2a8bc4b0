package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/wakabalab/eikaiwa/backend/internal/config"
	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
)

// Service drives the language model behind the conversation
// controller. It satisfies conversation.LLMClient: every StartChat
// produces a fresh logical chat primed with the projected history, and
// nothing is retained between turns.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	prompts   *LevelPromptManager
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the AI service from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
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
		chatModel: chatModel,
		cfg:       cfg,
		prompts:   NewLevelPromptManager(),
		chain:     runnable,
	}, nil
}

// StreamingEnabled indicates whether responses arrive as token streams.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// StartChat opens a logical model conversation for the given persona
// and history. Implements conversation.LLMClient.
func (s *Service) StartChat(_ context.Context, p persona.Persona, history []conversation.ModelTurn) (conversation.ChatSession, error) {
	return &chatSession{
		svc:     s,
		system:  s.prompts.BuildSystemPrompt(p),
		history: buildHistoryMessages(history),
	}, nil
}

// chatSession carries the prompt context for exactly one send.
type chatSession struct {
	svc     *Service
	system  string
	history []*schema.Message
}

// Send runs the chain and returns the response as a chunk stream. When
// streaming is disabled the full response is delivered as a single
// chunk, so callers consume both modes identically.
func (c *chatSession) Send(ctx context.Context, text string) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  c.system,
		"history": c.history,
		"query":   text,
	}

	if c.svc.StreamingEnabled() {
		stream, err := c.svc.chain.Stream(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to stream chain output: %w", err)
		}
		return stream, nil
	}

	response, err := c.svc.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run chain: %w", err)
	}
	return schema.StreamReaderFromArray([]*schema.Message{response}), nil
}

// historyLimit caps how many projected turns reach the model, keeping
// prompts bounded on long sessions.
const historyLimit = 20

func buildHistoryMessages(history []conversation.ModelTurn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	startIdx := 0
	if len(history) > historyLimit {
		startIdx = len(history) - historyLimit
	}

	messages := make([]*schema.Message, 0, len(history)-startIdx)
	for _, turn := range history[startIdx:] {
		switch turn.Role {
		case conversation.ModelRoleUser:
			messages = append(messages, schema.UserMessage(turn.Text))
		case conversation.ModelRoleModel:
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		}
	}

	return messages
}
