package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golf-coach/internal/domain"
	"golf-coach/internal/integrations/openai"
)

const (
	defaultMaxToolIterations = 4
	defaultMaxMessageLen     = 2000
	roleUser                 = "user"
	roleAssistant            = "assistant"
	roleTool                 = "tool"
	roleSystem               = "system"
)

// chatLLM is the completion surface consumed by the chat loop.
// *openai.Client satisfies it.
type chatLLM interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolDefinition) (openai.ChatResult, error)
}

// turnHistory is the slice of ChatHistory the loop consumes.
type turnHistory interface {
	RecordTurn(ctx context.Context, userID, role, content string) (domain.ChatTurn, error)
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ChatTurn, error)
}

// ChatService runs the bounded tool-calling loop for one chat turn: the model
// may request structured tool calls against the swing store before producing
// its final answer.
type ChatService struct {
	llm           chatLLM
	registry      *ToolRegistry
	history       turnHistory
	model         string
	maxIterations int
	maxMessageLen int
}

func NewChatService(llm chatLLM, registry *ToolRegistry, history turnHistory, model string) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if registry == nil {
		return nil, errors.New("usecase: tool registry must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: chat history must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	return &ChatService{
		llm:           llm,
		registry:      registry,
		history:       history,
		model:         model,
		maxIterations: defaultMaxToolIterations,
		maxMessageLen: defaultMaxMessageLen,
	}, nil
}

// Respond runs one chat turn. Tool failures never abort the loop; they flow
// back to the model as {"error": ...} results. Exhausting the iteration
// budget without a final answer is a hard failure signaling a misbehaving
// tool-use pattern.
func (s *ChatService) Respond(ctx context.Context, userID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return "", newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if strings.TrimSpace(userID) == "" {
		return "", newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	recent, err := s.history.RecentTurns(ctx, userID, 0)
	if err != nil {
		return "", err
	}

	messages := []domain.ChatMessage{{Role: roleSystem, Content: chatSystemPrompt()}}
	for _, turn := range recent {
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: roleUser, Content: message})

	tools := s.registry.Definitions()

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		result, err := s.llm.Chat(ctx, s.model, messages, tools)
		if err != nil {
			return "", wrapUpstream("chat_completion_error", err)
		}

		if len(result.ToolCalls) == 0 {
			if strings.TrimSpace(result.Content) == "" {
				return "", newError(ErrorUpstream, "empty_completion", nil)
			}
			return result.Content, s.persistTurn(ctx, userID, message, result.Content)
		}

		messages = append(messages, domain.ChatMessage{
			Role:      roleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			payload := s.registry.Execute(ctx, userID, call)
			slog.Info("tool call executed", "userId", userID, "tool", call.Name, "iteration", iteration)
			messages = append(messages, domain.ChatMessage{
				Role:       roleTool,
				Content:    payload,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	return "", newError(ErrorToolIterations, "no_final_answer",
		fmt.Errorf("model requested tools on all %d iterations", s.maxIterations))
}

// persistTurn records the user and assistant turns; only the final assistant
// text is persisted, never intermediate tool traffic.
func (s *ChatService) persistTurn(ctx context.Context, userID, question, answer string) error {
	if _, err := s.history.RecordTurn(ctx, userID, roleUser, question); err != nil {
		return err
	}
	if _, err := s.history.RecordTurn(ctx, userID, roleAssistant, answer); err != nil {
		return err
	}
	return nil
}
