package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"golf-coach/internal/domain"
	"golf-coach/internal/usecase"
)

type fakeStarter struct {
	calls []string
	err   error
}

func (s *fakeStarter) StartOrResume(_ context.Context, analysisID, _, _, userID string) error {
	s.calls = append(s.calls, analysisID+"/"+userID)
	return s.err
}

type fakeRecordReader struct {
	rec *domain.AnalysisRecord
	err error
}

func (r *fakeRecordReader) GetAnalysis(_ context.Context, _ string) (*domain.AnalysisRecord, error) {
	return r.rec, r.err
}

type fakeTrigger struct {
	calls int
	err   error
}

func (t *fakeTrigger) TriggerAnalysis(_ context.Context, _, _ string) error {
	t.calls++
	return t.err
}

type fakeChatter struct {
	answer string
	err    error
	userID string
}

func (c *fakeChatter) Respond(_ context.Context, userID, _ string) (string, error) {
	c.userID = userID
	return c.answer, c.err
}

type fakeRateChecker struct {
	decision usecase.RateDecision
	authed   bool
}

func (r *fakeRateChecker) Check(_ string, authenticated bool) usecase.RateDecision {
	r.authed = authenticated
	return r.decision
}

type apiFixture struct {
	api     *API
	starter *fakeStarter
	records *fakeRecordReader
	trigger *fakeTrigger
	chat    *fakeChatter
	rate    *fakeRateChecker
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		starter: &fakeStarter{},
		records: &fakeRecordReader{},
		trigger: &fakeTrigger{},
		chat:    &fakeChatter{answer: "ok"},
		rate:    &fakeRateChecker{decision: usecase.RateDecision{Allowed: true, Limit: 10}},
	}
	api, err := NewAPI(f.starter, f.records, f.trigger, f.chat, f.rate)
	require.NoError(t, err)
	api.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	f.api = api
	return f
}

func decodeBody(t *testing.T, res events.APIGatewayProxyResponse) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Body), &out))
	return out
}

func TestUploadDerivesIDsFromKey(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/video",
		Body:       `{"s3Key":"golf-swings/user-42/swing-abc.mov","bucket":"uploads"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	body := decodeBody(t, res)
	require.Equal(t, "swing-abc", body["jobId"])
	require.Equal(t, "started", body["status"])
	require.Equal(t, []string{"swing-abc/user-42"}, f.starter.calls)
}

func TestUploadRejectsMissingFields(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/video",
		Body:       `{"s3Key":"golf-swings/u/f.mov"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Empty(t, f.starter.calls)
}

func TestResultsUnknownJob(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/nope",
		PathParameters: map[string]string{"jobId": "nope"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestResultsMapsInternalStatuses(t *testing.T) {
	tests := []struct {
		internal domain.Status
		public   string
	}{
		{domain.StatusStarted, "started"},
		{domain.StatusExtractingFrames, "extracting_frames"},
		{domain.StatusAIProcessing, "analyzing"},
		{domain.StatusFailed, "failed"},
	}
	for _, tt := range tests {
		f := newAPIFixture(t)
		f.records.rec = &domain.AnalysisRecord{
			AnalysisID: "swing-1",
			Status:     tt.internal,
			UpdatedAt:  f.api.now(),
		}
		res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
			HTTPMethod:     http.MethodGet,
			Path:           "/results/swing-1",
			PathParameters: map[string]string{"jobId": "swing-1"},
		})
		require.NoError(t, err)
		require.Equal(t, tt.public, decodeBody(t, res)["status"], "internal status %s", tt.internal)
	}
}

func TestResultsIncludesAnalysisWhenComplete(t *testing.T) {
	f := newAPIFixture(t)
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID:          "swing-1",
		Status:              domain.StatusAICompleted,
		AIAnalysisCompleted: true,
		AIAnalysis:          &domain.AIAnalysis{CoachingText: "great tempo"},
		UpdatedAt:           f.api.now(),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)

	body := decodeBody(t, res)
	require.Equal(t, "completed", body["status"])
	analysis := body["aiAnalysis"].(map[string]any)
	require.Equal(t, "great tempo", analysis["coachingText"])
	require.Zero(t, f.trigger.calls)
}

func TestResultsSelfHealsStaleRecord(t *testing.T) {
	f := newAPIFixture(t)
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID: "swing-1",
		UserID:     "user-1",
		Status:     domain.StatusCompleted,
		UpdatedAt:  f.api.now().Add(-10 * time.Minute),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.trigger.calls, "stale record gets exactly one re-trigger")
	require.Equal(t, "analyzing", decodeBody(t, res)["status"])
}

func TestResultsFreshRecordIsNotReTriggered(t *testing.T) {
	f := newAPIFixture(t)
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID: "swing-1",
		Status:     domain.StatusCompleted,
		UpdatedAt:  f.api.now().Add(-time.Minute),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)
	require.Zero(t, f.trigger.calls)
	require.Equal(t, "analyzing", decodeBody(t, res)["status"])
}

func TestResultsSelfHealsAbandonedProcessingRecord(t *testing.T) {
	f := newAPIFixture(t)
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID: "swing-1",
		UserID:     "user-1",
		Status:     domain.StatusAIProcessing,
		UpdatedAt:  f.api.now().Add(-15 * time.Minute),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.trigger.calls, "a worker dead mid-run gets re-invoked")
	require.Equal(t, "analyzing", decodeBody(t, res)["status"])
}

func TestResultsLeavesLiveProcessingRecordAlone(t *testing.T) {
	f := newAPIFixture(t)
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID: "swing-1",
		Status:     domain.StatusAIProcessing,
		UpdatedAt:  f.api.now().Add(-5 * time.Minute),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)
	require.Zero(t, f.trigger.calls, "an in-flight multi-batch run is not duplicated")
	require.Equal(t, "analyzing", decodeBody(t, res)["status"])
}

func TestResultsSelfHealSurvivesTriggerFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.trigger.err = errors.New("lambda unreachable")
	f.records.rec = &domain.AnalysisRecord{
		AnalysisID: "swing-1",
		Status:     domain.StatusCompleted,
		UpdatedAt:  f.api.now().Add(-10 * time.Minute),
	}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:     http.MethodGet,
		Path:           "/results/swing-1",
		PathParameters: map[string]string{"jobId": "swing-1"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "analyzing", decodeBody(t, res)["status"])
}

func TestChatRequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hi"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestChatPrefersAuthorizerClaims(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hi","userId":"body-user"}`,
		RequestContext: events.APIGatewayProxyRequestContext{
			Authorizer: map[string]any{
				"claims": map[string]any{"sub": "cognito-user"},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "cognito-user", f.chat.userID)
	require.True(t, f.rate.authed)
}

func TestChatRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	reset := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	f.rate.decision = usecase.RateDecision{Allowed: false, RequestCount: 10, Limit: 10, ResetTime: reset}

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hi","userId":"user-1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)

	body := decodeBody(t, res)
	require.Equal(t, "2025-06-01T13:00:00Z", body["resetTime"])
	require.Equal(t, float64(10), body["limit"])
}

func TestChatInternalErrorIsGeneric(t *testing.T) {
	f := newAPIFixture(t)
	f.chat.err = errors.New("openai: post chat: status 500")

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hi","userId":"user-1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	require.NotContains(t, res.Body, "openai", "upstream detail must not leak")
}

func TestChatSuccess(t *testing.T) {
	f := newAPIFixture(t)
	f.chat.answer = "work on your grip"

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hi","userId":"user-1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "work on your grip", decodeBody(t, res)["response"])
}

func TestUnknownRouteIs404(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodDelete,
		Path:       "/video",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
