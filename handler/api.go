package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"golf-coach/internal/domain"
	"golf-coach/internal/usecase"
)

const (
	defaultStaleAfter = 3 * time.Minute
	// defaultProcessingStaleAfter gives an in-flight AI pass room for a full
	// multi-batch run before a poll re-invokes the worker.
	defaultProcessingStaleAfter = 10 * time.Minute
)

// AnalysisStarter is the upload entry of the status machine.
type AnalysisStarter interface {
	StartOrResume(ctx context.Context, analysisID, bucket, key, userID string) error
}

// RecordReader reads analysis records for the results endpoint.
type RecordReader interface {
	GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error)
}

// AnalysisTrigger asynchronously re-invokes the analysis worker.
type AnalysisTrigger interface {
	TriggerAnalysis(ctx context.Context, analysisID, userID string) error
}

// Chatter runs one tool-assisted chat turn.
type Chatter interface {
	Respond(ctx context.Context, userID, message string) (string, error)
}

// RateChecker gates chat requests.
type RateChecker interface {
	Check(userID string, authenticated bool) usecase.RateDecision
}

// API routes the three API Gateway endpoints: upload trigger, results poll,
// and chat.
type API struct {
	starter         AnalysisStarter
	records         RecordReader
	trigger         AnalysisTrigger
	chat            Chatter
	rate            RateChecker
	staleAfter      time.Duration
	processingStale time.Duration
	now             func() time.Time
}

func NewAPI(starter AnalysisStarter, records RecordReader, trigger AnalysisTrigger, chat Chatter, rate RateChecker) (*API, error) {
	if starter == nil || records == nil || trigger == nil || chat == nil || rate == nil {
		return nil, errors.New("handler: all dependencies must be non-nil")
	}
	return &API{
		starter:         starter,
		records:         records,
		trigger:         trigger,
		chat:            chat,
		rate:            rate,
		staleAfter:      defaultStaleAfter,
		processingStale: defaultProcessingStaleAfter,
		now:             time.Now,
	}, nil
}

func (h *API) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch {
	case req.HTTPMethod == http.MethodPost && req.Path == "/video":
		return h.handleUpload(ctx, req), nil
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(req.Path, "/results/"):
		return h.handleResults(ctx, req), nil
	case req.HTTPMethod == http.MethodPost && req.Path == "/chat":
		return h.handleChat(ctx, req), nil
	default:
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "not found"}), nil
	}
}

type uploadRequest struct {
	S3Key  string `json:"s3Key"`
	Bucket string `json:"bucket"`
	UserID string `json:"userId"`
}

// handleUpload acknowledges the upload and starts (or resumes) the analysis.
// The 202-style ack is synchronous; completion is polled via /results.
func (h *API) handleUpload(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in uploadRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if in.S3Key == "" || in.Bucket == "" {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "s3Key and bucket are required"})
	}

	userID := in.UserID
	if userID == "" {
		userID = userIDFromKey(in.S3Key)
	}
	analysisID := analysisIDFromKey(in.S3Key)
	if analysisID == "" {
		analysisID = uuid.NewString()
	}

	if err := h.starter.StartOrResume(ctx, analysisID, in.Bucket, in.S3Key, userID); err != nil {
		slog.Error("start analysis failed", "analysisId", analysisID, "err", err)
		return jsonResponse(http.StatusInternalServerError, map[string]string{"error": "could not start analysis"})
	}
	return jsonResponse(http.StatusAccepted, map[string]string{
		"jobId":  analysisID,
		"status": "started",
	})
}

type resultsResponse struct {
	Status     string             `json:"status"`
	Message    string             `json:"message"`
	AIAnalysis *domain.AIAnalysis `json:"aiAnalysis,omitempty"`
}

// handleResults reports pipeline progress, and self-heals: a record whose AI
// pass stalled — frames done but never picked up within staleAfter, or stuck
// at AI_PROCESSING past processingStale after a worker crash — gets the
// worker re-invoked before the response goes out.
func (h *API) handleResults(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	jobID := req.PathParameters["jobId"]
	if jobID == "" {
		jobID = path.Base(req.Path)
	}
	if jobID == "" || jobID == "results" {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "job id is required"})
	}

	rec, err := h.records.GetAnalysis(ctx, jobID)
	if err != nil {
		slog.Error("results lookup failed", "jobId", jobID, "err", err)
		return jsonResponse(http.StatusInternalServerError, map[string]string{"error": "could not fetch results"})
	}
	if rec == nil {
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "no analysis found with id " + jobID})
	}

	status := publicStatus(rec)
	if h.stalled(rec) {
		if err := h.trigger.TriggerAnalysis(ctx, rec.AnalysisID, rec.UserID); err != nil {
			slog.Error("stale analysis re-trigger failed", "jobId", jobID, "err", err)
		} else {
			slog.Info("re-triggered stale analysis", "jobId", jobID)
		}
		status = "analyzing"
	}

	out := resultsResponse{Status: status, Message: rec.ProgressMessage}
	if rec.AIAnalysisCompleted {
		out.AIAnalysis = rec.AIAnalysis
	}
	return jsonResponse(http.StatusOK, out)
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (h *API) handleChat(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	userID, authenticated := callerIdentity(req, in.UserID)
	if userID == "" {
		return jsonResponse(http.StatusUnauthorized, map[string]string{"error": "user identity is required"})
	}

	decision := h.rate.Check(userID, authenticated)
	if !decision.Allowed {
		return jsonResponse(http.StatusTooManyRequests, map[string]any{
			"error":        "rate limit exceeded, try again after " + decision.ResetTime.UTC().Format(time.RFC3339),
			"resetTime":    decision.ResetTime.UTC().Format(time.RFC3339),
			"requestCount": decision.RequestCount,
			"limit":        decision.Limit,
		})
	}

	answer, err := h.chat.Respond(ctx, userID, in.Message)
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) && ue.Code == usecase.ErrorInvalidInput {
			return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid message"})
		}
		// Internal detail never leaks to the client.
		slog.Error("chat turn failed", "userId", userID, "err", err)
		return jsonResponse(http.StatusInternalServerError, map[string]string{
			"error": "something went wrong, please try again",
		})
	}

	return jsonResponse(http.StatusOK, map[string]string{
		"response":  answer,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// stalled reports whether a record's AI pass should have progressed by now.
// Frames done but never picked up gets the short threshold; an in-flight
// AI_PROCESSING record gets the longer one, so a live multi-batch run is not
// duplicated.
func (h *API) stalled(rec *domain.AnalysisRecord) bool {
	if rec.AIAnalysisCompleted {
		return false
	}
	age := h.now().Sub(rec.UpdatedAt)
	switch rec.Status {
	case domain.StatusCompleted:
		return age > h.staleAfter
	case domain.StatusAIProcessing:
		return age > h.processingStale
	default:
		return false
	}
}

// callerIdentity resolves the user id, preferring authorizer claims over the
// request body. A claims-backed identity counts as authenticated for the
// rate quota.
func callerIdentity(req events.APIGatewayProxyRequest, bodyUserID string) (string, bool) {
	if auth := req.RequestContext.Authorizer; auth != nil {
		if claims, ok := auth["claims"].(map[string]any); ok {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return sub, true
			}
		}
	}
	return strings.TrimSpace(bodyUserID), false
}

// publicStatus maps internal lifecycle states onto the polled vocabulary.
// COMPLETED (frames done) reads as "analyzing" externally: from the user's
// perspective the AI pass is simply still pending.
func publicStatus(rec *domain.AnalysisRecord) string {
	switch rec.Status {
	case domain.StatusStarted:
		return "started"
	case domain.StatusExtractingFrames:
		return "extracting_frames"
	case domain.StatusCompleted, domain.StatusAIProcessing:
		return "analyzing"
	case domain.StatusAICompleted:
		return "completed"
	case domain.StatusFailed:
		return "failed"
	default:
		return strings.ToLower(string(rec.Status))
	}
}

// userIDFromKey extracts the user segment of golf-swings/<user>/<file> keys.
func userIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 2 && parts[0] == "golf-swings" {
		return parts[1]
	}
	return "unknown-user"
}

// analysisIDFromKey derives a stable analysis id from the upload's file name.
func analysisIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return ""
	}
	name := parts[2]
	for _, ext := range []string{".mov", ".mp4", ".avi", ".m4v"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("marshal response failed", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"error":"internal error"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
