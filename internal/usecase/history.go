package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"golf-coach/internal/domain"
)

const defaultMaxChatTurns = 12

// ChatHistory trims and persists conversation turns per user. The underlying
// store has no partial-append primitive: every write re-reads the user's
// thread record, appends, trims, and writes the whole history back.
type ChatHistory struct {
	store    ThreadStore
	maxTurns int
}

func NewChatHistory(store ThreadStore, maxTurns int) (*ChatHistory, error) {
	if store == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxChatTurns
	}
	return &ChatHistory{store: store, maxTurns: maxTurns}, nil
}

// RecordTurn appends one turn to the user's history, trimming to the most
// recent maxTurns. A user chatting before their first swing gets a bare
// thread record with no external thread id yet.
func (h *ChatHistory) RecordTurn(ctx context.Context, userID, role, content string) (domain.ChatTurn, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ChatTurn{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	thread, err := h.store.GetUserThread(ctx, userID)
	if err != nil {
		return domain.ChatTurn{}, newError(ErrorInternal, "thread_read_error", err)
	}
	now := time.Now().UTC()
	if thread == nil {
		thread = &domain.UserThread{UserID: userID, CreatedAt: now}
	}

	turn := domain.ChatTurn{Role: role, Content: content, Timestamp: now}
	thread.ChatHistory = append(thread.ChatHistory, turn)
	if len(thread.ChatHistory) > h.maxTurns {
		thread.ChatHistory = thread.ChatHistory[len(thread.ChatHistory)-h.maxTurns:]
	}
	thread.LastUpdated = now

	if err := h.store.PutUserThread(ctx, *thread); err != nil {
		return domain.ChatTurn{}, newError(ErrorInternal, "thread_write_error", err)
	}
	return turn, nil
}

// RecentTurns returns up to limit of the user's most recent turns in
// chronological order.
func (h *ChatHistory) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ChatTurn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if limit <= 0 || limit > h.maxTurns {
		limit = h.maxTurns
	}
	thread, err := h.store.GetUserThread(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "thread_read_error", err)
	}
	if thread == nil || len(thread.ChatHistory) == 0 {
		return nil, nil
	}
	turns := thread.ChatHistory
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.ChatTurn, len(turns))
	copy(out, turns)
	return out, nil
}
