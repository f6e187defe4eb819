package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golf-coach/internal/domain"
)

const (
	defaultToolTimeout = 8 * time.Second
	maxLastSwingLimit  = 3
)

// ToolStore is the structured swing data reachable from chat tools. Tool
// goroutines may outlive their timeout; these are read-only queries, safe to
// abandon.
type ToolStore interface {
	GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error)
	LatestAnalyses(ctx context.Context, userID string, limit int) ([]domain.AnalysisRecord, error)
	GetUserThread(ctx context.Context, userID string) (*domain.UserThread, error)
}

// ToolRegistry holds the fixed tool set offered to the conversational model.
// The schema sent to the model is identical on every iteration of a loop
// invocation.
type ToolRegistry struct {
	store   ToolStore
	timeout time.Duration
}

func NewToolRegistry(store ToolStore, timeout time.Duration) (*ToolRegistry, error) {
	if store == nil {
		return nil, errors.New("usecase: tool store must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &ToolRegistry{store: store, timeout: timeout}, nil
}

// Definitions returns the tool schemas sent to the model verbatim.
func (r *ToolRegistry) Definitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        "get_last_swing",
			Description: "Fetch the user's most recent analyzed swings, newest first.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "minimum": 1, "maximum": 3, "description": "How many recent swings to return."}
				}
			}`),
		},
		{
			Name:        "get_swing_analysis",
			Description: "Fetch the full coaching analysis for one swing by its analysis id.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"analysis_id": {"type": "string", "description": "The swing's analysis id."}
				},
				"required": ["analysis_id"]
			}`),
		},
		{
			Name:        "compare_swings",
			Description: "Compare two analyzed swings, returning per-metric deltas (current minus baseline).",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"current_id": {"type": "string", "description": "Analysis id of the newer swing."},
					"baseline_id": {"type": "string", "description": "Analysis id of the swing to compare against."}
				},
				"required": ["current_id", "baseline_id"]
			}`),
		},
		{
			Name:        "get_user_swing_profile",
			Description: "Fetch the user's overall swing profile: swing count and recent swing history.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// Execute runs one tool call, racing its logic against the per-call timeout.
// The result is always a JSON payload for the model: execution errors and
// timeouts become {"error": ...} rather than loop failures. The tool's work
// is not forcibly interrupted on timeout; only its result is discarded.
func (r *ToolRegistry) Execute(ctx context.Context, userID string, call domain.ToolCall) string {
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		payload string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		p, err := r.run(tctx, userID, call)
		done <- outcome{payload: p, err: err}
	}()

	select {
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return errorPayload(fmt.Sprintf("tool %s timed out", call.Name))
		}
		return errorPayload(fmt.Sprintf("tool %s cancelled", call.Name))
	case o := <-done:
		if o.err != nil {
			return errorPayload(o.err.Error())
		}
		return o.payload
	}
}

func (r *ToolRegistry) run(ctx context.Context, userID string, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "get_last_swing":
		return r.lastSwing(ctx, userID, call.Arguments)
	case "get_swing_analysis":
		return r.swingAnalysis(ctx, call.Arguments)
	case "compare_swings":
		return r.compareSwings(ctx, call.Arguments)
	case "get_user_swing_profile":
		return r.swingProfile(ctx, userID)
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

type swingSummaryPayload struct {
	AnalysisID   string             `json:"analysisId"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	CoachingText string             `json:"coachingText,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func summarize(rec domain.AnalysisRecord) swingSummaryPayload {
	p := swingSummaryPayload{
		AnalysisID: rec.AnalysisID,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt,
	}
	if rec.AIAnalysis != nil {
		p.CoachingText = rec.AIAnalysis.CoachingText
		p.Metrics = rec.AIAnalysis.Metrics
	}
	return p
}

func (r *ToolRegistry) lastSwing(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if in.Limit <= 0 {
		in.Limit = 1
	}
	if in.Limit > maxLastSwingLimit {
		in.Limit = maxLastSwingLimit
	}
	records, err := r.store.LatestAnalyses(ctx, userID, in.Limit)
	if err != nil {
		return "", fmt.Errorf("fetch recent swings: %w", err)
	}
	if len(records) == 0 {
		return errorPayload("no analyzed swings found for this user"), nil
	}
	summaries := make([]swingSummaryPayload, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}
	return marshalPayload(map[string]any{"swings": summaries})
}

func (r *ToolRegistry) swingAnalysis(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		AnalysisID string `json:"analysis_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.AnalysisID) == "" {
		return errorPayload("analysis_id is required"), nil
	}
	rec, err := r.store.GetAnalysis(ctx, in.AnalysisID)
	if err != nil {
		return "", fmt.Errorf("fetch analysis: %w", err)
	}
	if rec == nil {
		return errorPayload("no analysis found with id " + in.AnalysisID), nil
	}
	return marshalPayload(summarize(*rec))
}

// compareSwings returns numeric deltas (current - baseline) per shared metric
// key plus a short textual summary. A missing swing is an error payload, not
// a thrown error.
func (r *ToolRegistry) compareSwings(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		CurrentID  string `json:"current_id"`
		BaselineID string `json:"baseline_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	current, err := r.store.GetAnalysis(ctx, in.CurrentID)
	if err != nil {
		return "", fmt.Errorf("fetch current swing: %w", err)
	}
	if current == nil {
		return errorPayload("no analysis found with id " + in.CurrentID), nil
	}
	baseline, err := r.store.GetAnalysis(ctx, in.BaselineID)
	if err != nil {
		return "", fmt.Errorf("fetch baseline swing: %w", err)
	}
	if baseline == nil {
		return errorPayload("no analysis found with id " + in.BaselineID), nil
	}
	if current.AIAnalysis == nil || baseline.AIAnalysis == nil {
		return errorPayload("both swings must have completed AI analysis to compare"), nil
	}

	deltas := make(map[string]float64)
	var summary []string
	keys := make([]string, 0, len(current.AIAnalysis.Metrics))
	for k := range current.AIAnalysis.Metrics {
		if _, ok := baseline.AIAnalysis.Metrics[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := roundMetric(current.AIAnalysis.Metrics[k] - baseline.AIAnalysis.Metrics[k])
		deltas[k] = d
		summary = append(summary, fmt.Sprintf("%s changed by %+.2f", k, d))
	}
	if len(deltas) == 0 {
		summary = append(summary, "no shared metrics between the two swings")
	}

	return marshalPayload(map[string]any{
		"currentId":  in.CurrentID,
		"baselineId": in.BaselineID,
		"deltas":     deltas,
		"summary":    summary,
	})
}

func (r *ToolRegistry) swingProfile(ctx context.Context, userID string) (string, error) {
	thread, err := r.store.GetUserThread(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fetch user profile: %w", err)
	}
	if thread == nil {
		return errorPayload("no swing profile found for this user"), nil
	}
	return marshalPayload(map[string]any{
		"swingCount":   thread.SwingCount,
		"messageCount": thread.MessageCount,
		"memberSince":  thread.CreatedAt,
		"swingHistory": thread.SwingHistory,
	})
}

// roundMetric keeps deltas stable at two decimal places so floating-point
// noise never reaches the model.
func roundMetric(v float64) float64 {
	return math.Round(v*100) / 100
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool payload: %w", err)
	}
	return string(b), nil
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
