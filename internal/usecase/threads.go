package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golf-coach/internal/domain"
	"golf-coach/internal/integrations/openai"
)

const (
	defaultPollAttempts = 30
	defaultPollDelay    = time.Second
)

// ThreadStore is the user-thread persistence consumed by the thread manager
// and the chat history.
type ThreadStore interface {
	GetUserThread(ctx context.Context, userID string) (*domain.UserThread, error)
	PutUserThread(ctx context.Context, t domain.UserThread) error
}

// threadAPI is the assistants surface consumed by the thread manager.
// *openai.Client satisfies it.
type threadAPI interface {
	CreateThread(ctx context.Context) (string, error)
	CreateRun(ctx context.Context, threadID, assistantID, instructions string) (string, error)
	GetRunStatus(ctx context.Context, threadID, runID string) (status, errDetail string, err error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]openai.ThreadMessage, error)
}

// Sleeper waits for d or until ctx is done. Injected so tests never sleep.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ThreadManager owns the per-user persistent model thread: lazy creation,
// counter bookkeeping, and bounded run polling.
type ThreadManager struct {
	store       ThreadStore
	api         threadAPI
	assistantID string

	pollAttempts int
	pollDelay    time.Duration
	sleep        Sleeper
}

// NewThreadManager creates a ThreadManager. assistantID names the external
// assistant whose runs drive swing analysis.
func NewThreadManager(store ThreadStore, api threadAPI, assistantID string) (*ThreadManager, error) {
	if store == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if api == nil {
		return nil, errors.New("usecase: thread api must not be nil")
	}
	if assistantID == "" {
		return nil, errors.New("usecase: assistant id must not be empty")
	}
	return &ThreadManager{
		store:        store,
		api:          api,
		assistantID:  assistantID,
		pollAttempts: defaultPollAttempts,
		pollDelay:    defaultPollDelay,
		sleep:        defaultSleeper,
	}, nil
}

// GetOrCreate returns the user's thread record, creating the external thread
// and a fresh record on first need. This is a read-then-write sequence with
// no cross-request lock: concurrent first calls can each create an external
// thread, and the losing thread is orphaned. Accepted tradeoff over a
// distributed lock.
func (m *ThreadManager) GetOrCreate(ctx context.Context, userID string) (*domain.UserThread, error) {
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	existing, err := m.store.GetUserThread(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "thread_read_error", err)
	}
	if existing != nil {
		return existing, nil
	}

	threadID, err := m.api.CreateThread(ctx)
	if err != nil {
		return nil, wrapUpstream("thread_create_error", err)
	}
	now := time.Now().UTC()
	t := domain.UserThread{
		UserID:           userID,
		ExternalThreadID: threadID,
		CreatedAt:        now,
		LastUpdated:      now,
	}
	if err := m.store.PutUserThread(ctx, t); err != nil {
		return nil, newError(ErrorInternal, "thread_write_error", err)
	}
	slog.Info("created user thread", "userId", userID, "threadId", threadID)
	return &t, nil
}

// Save writes back an updated thread record.
func (m *ThreadManager) Save(ctx context.Context, t domain.UserThread) error {
	t.LastUpdated = time.Now().UTC()
	if err := m.store.PutUserThread(ctx, t); err != nil {
		return newError(ErrorInternal, "thread_write_error", err)
	}
	return nil
}

// RunAndAwait starts an assistant run over the thread with the given
// instructions and polls until it completes, returning the newest assistant
// reply. Polling is bounded: pollAttempts checks with pollDelay between them,
// then a timeout error.
func (m *ThreadManager) RunAndAwait(ctx context.Context, threadID, instructions string) (string, error) {
	runID, err := m.api.CreateRun(ctx, threadID, m.assistantID, instructions)
	if err != nil {
		return "", wrapUpstream("run_create_error", err)
	}

	for attempt := 0; attempt < m.pollAttempts; attempt++ {
		status, detail, err := m.api.GetRunStatus(ctx, threadID, runID)
		if err != nil {
			return "", wrapUpstream("run_poll_error", err)
		}
		switch status {
		case "completed":
			return m.latestAssistantReply(ctx, threadID)
		case "failed", "cancelled", "expired":
			return "", newError(ErrorUpstream, "run_"+status, fmt.Errorf("run %s %s: %s", runID, status, detail))
		}
		if err := m.sleep(ctx, m.pollDelay); err != nil {
			return "", newError(ErrorUpstream, "run_poll_interrupted", err)
		}
	}
	return "", newError(ErrorUpstream, "run_timeout",
		fmt.Errorf("run %s not complete after %d attempts", runID, m.pollAttempts))
}

func (m *ThreadManager) latestAssistantReply(ctx context.Context, threadID string) (string, error) {
	msgs, err := m.api.ListMessages(ctx, threadID, 5)
	if err != nil {
		return "", wrapUpstream("message_list_error", err)
	}
	for _, msg := range msgs {
		if msg.Role == "assistant" && msg.Content != "" {
			return msg.Content, nil
		}
	}
	return "", newError(ErrorUpstream, "no_assistant_reply", nil)
}

// wrapUpstream classifies an integration error. A missing credential is a
// configuration error; 429 and 413 stay distinguishable so callers can build
// the right user-facing message.
func wrapUpstream(reason string, err error) *Error {
	if errors.Is(err, openai.ErrMissingAPIKey) {
		return newError(ErrorConfig, "missing_api_key", err)
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case 429:
			return newError(ErrorRateLimited, reason, err)
		case 413:
			return newError(ErrorUpstream, "payload_too_large", err)
		}
	}
	return newError(ErrorUpstream, reason, err)
}

// UpstreamStatus extracts the HTTP status carried by an upstream error chain.
func UpstreamStatus(err error) (int, bool) {
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode(), true
	}
	return 0, false
}
