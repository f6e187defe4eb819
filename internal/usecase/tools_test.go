package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"golf-coach/internal/domain"
)

type fakeToolStore struct {
	analyses map[string]*domain.AnalysisRecord
	latest   []domain.AnalysisRecord
	thread   *domain.UserThread
	getErr   error
	getDelay time.Duration
}

func (s *fakeToolStore) GetAnalysis(_ context.Context, analysisID string) (*domain.AnalysisRecord, error) {
	// Deliberately ignores the context: models a query that keeps running
	// past its deadline.
	if s.getDelay > 0 {
		time.Sleep(s.getDelay)
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.analyses[analysisID], nil
}

func (s *fakeToolStore) LatestAnalyses(_ context.Context, _ string, limit int) ([]domain.AnalysisRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if limit > len(s.latest) {
		limit = len(s.latest)
	}
	return s.latest[:limit], nil
}

func (s *fakeToolStore) GetUserThread(_ context.Context, _ string) (*domain.UserThread, error) {
	return s.thread, nil
}

func analyzedSwing(id string, metrics map[string]float64) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		AnalysisID: id,
		UserID:     "user-1",
		Status:     domain.StatusAICompleted,
		AIAnalysis: &domain.AIAnalysis{
			CoachingText: "coaching for " + id,
			Metrics:      metrics,
		},
	}
}

func execute(t *testing.T, r *ToolRegistry, name, args string) map[string]any {
	t.Helper()
	payload := r.Execute(context.Background(), "user-1", domain.ToolCall{
		ID:        "call-1",
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

func TestCompareSwingsReturnsRoundedDeltas(t *testing.T) {
	store := &fakeToolStore{analyses: map[string]*domain.AnalysisRecord{
		"new": analyzedSwing("new", map[string]float64{"path_deg": 1.4, "tempo_ratio": 3.0}),
		"old": analyzedSwing("old", map[string]float64{"path_deg": 2.1, "tempo_ratio": 3.0}),
	}}
	r, err := NewToolRegistry(store, 0)
	require.NoError(t, err)

	out := execute(t, r, "compare_swings", `{"current_id":"new","baseline_id":"old"}`)
	deltas := out["deltas"].(map[string]any)
	require.Equal(t, -0.7, deltas["path_deg"])
	require.Equal(t, 0.0, deltas["tempo_ratio"])
}

func TestCompareSwingsMissingBaselineIsErrorPayload(t *testing.T) {
	store := &fakeToolStore{analyses: map[string]*domain.AnalysisRecord{
		"new": analyzedSwing("new", map[string]float64{"path_deg": 1.0}),
	}}
	r, err := NewToolRegistry(store, 0)
	require.NoError(t, err)

	out := execute(t, r, "compare_swings", `{"current_id":"new","baseline_id":"gone"}`)
	require.Contains(t, out["error"], "gone")
}

func TestCompareSwingsIgnoresUnsharedMetrics(t *testing.T) {
	store := &fakeToolStore{analyses: map[string]*domain.AnalysisRecord{
		"new": analyzedSwing("new", map[string]float64{"path_deg": 1.0, "hip_turn": 40}),
		"old": analyzedSwing("old", map[string]float64{"path_deg": 2.0, "spine_angle": 12}),
	}}
	r, err := NewToolRegistry(store, 0)
	require.NoError(t, err)

	out := execute(t, r, "compare_swings", `{"current_id":"new","baseline_id":"old"}`)
	deltas := out["deltas"].(map[string]any)
	require.Len(t, deltas, 1)
	require.Contains(t, deltas, "path_deg")
}

func TestGetLastSwingClampsLimit(t *testing.T) {
	store := &fakeToolStore{latest: []domain.AnalysisRecord{
		*analyzedSwing("a", nil), *analyzedSwing("b", nil),
		*analyzedSwing("c", nil), *analyzedSwing("d", nil),
	}}
	r, err := NewToolRegistry(store, 0)
	require.NoError(t, err)

	out := execute(t, r, "get_last_swing", `{"limit": 99}`)
	swings := out["swings"].([]any)
	require.Len(t, swings, 3)
}

func TestGetSwingAnalysisNotFound(t *testing.T) {
	r, err := NewToolRegistry(&fakeToolStore{analyses: map[string]*domain.AnalysisRecord{}}, 0)
	require.NoError(t, err)

	out := execute(t, r, "get_swing_analysis", `{"analysis_id":"nope"}`)
	require.Contains(t, out["error"], "nope")
}

func TestExecuteStoreErrorBecomesErrorPayload(t *testing.T) {
	r, err := NewToolRegistry(&fakeToolStore{getErr: errors.New("dynamo down")}, 0)
	require.NoError(t, err)

	out := execute(t, r, "get_swing_analysis", `{"analysis_id":"x"}`)
	require.Contains(t, out["error"], "dynamo down")
}

func TestExecuteTimesOutSlowTool(t *testing.T) {
	store := &fakeToolStore{
		analyses: map[string]*domain.AnalysisRecord{"x": analyzedSwing("x", nil)},
		getDelay: 200 * time.Millisecond,
	}
	r, err := NewToolRegistry(store, 20*time.Millisecond)
	require.NoError(t, err)

	out := execute(t, r, "get_swing_analysis", `{"analysis_id":"x"}`)
	require.Contains(t, out["error"], "timed out")
}

func TestExecuteReportsCancellationNotTimeout(t *testing.T) {
	store := &fakeToolStore{
		analyses: map[string]*domain.AnalysisRecord{"x": analyzedSwing("x", nil)},
		getDelay: 200 * time.Millisecond,
	}
	r, err := NewToolRegistry(store, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := r.Execute(ctx, "user-1", domain.ToolCall{
		ID:        "call-1",
		Name:      "get_swing_analysis",
		Arguments: json.RawMessage(`{"analysis_id":"x"}`),
	})
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	require.Contains(t, out["error"], "cancelled")
	require.NotContains(t, out["error"], "timed out")
}

func TestExecuteUnknownTool(t *testing.T) {
	r, err := NewToolRegistry(&fakeToolStore{}, 0)
	require.NoError(t, err)

	out := execute(t, r, "launch_drone", `{}`)
	require.Contains(t, out["error"], "unknown tool")
}

func TestSwingProfileUsesThreadRecord(t *testing.T) {
	store := &fakeToolStore{thread: &domain.UserThread{
		UserID:     "user-1",
		SwingCount: 7,
		SwingHistory: []domain.SwingSummary{
			{AnalysisID: "a1", SelectedFrames: []string{"P1_address", "P7_impact"}},
		},
	}}
	r, err := NewToolRegistry(store, 0)
	require.NoError(t, err)

	out := execute(t, r, "get_user_swing_profile", `{}`)
	require.Equal(t, float64(7), out["swingCount"])
	require.Len(t, out["swingHistory"].([]any), 1)
}

func TestDefinitionsAreStable(t *testing.T) {
	r, err := NewToolRegistry(&fakeToolStore{}, 0)
	require.NoError(t, err)

	first := r.Definitions()
	second := r.Definitions()
	require.Len(t, first, 4)
	require.Equal(t, first, second)
	for _, def := range first {
		require.True(t, json.Valid(def.Parameters), "schema for %s must be valid JSON", def.Name)
	}
}
