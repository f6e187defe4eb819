package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golf-coach/internal/domain"
	"golf-coach/internal/repository"
)

const (
	defaultSweepBatch = 5
	// defaultProcessingStale is how long a record may sit at AI_PROCESSING
	// without a write before the sweep treats its worker as dead. Long enough
	// for a full multi-batch run, well under the sweep interval's order of
	// magnitude.
	defaultProcessingStale = 10 * time.Minute
)

// RecordStore is the analysis-record persistence consumed by the status
// machine.
type RecordStore interface {
	GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error)
	CreateAnalysis(ctx context.Context, rec domain.AnalysisRecord) error
	UpdateStatus(ctx context.Context, analysisID string, status domain.Status, progressMessage string) error
	SaveAIAnalysis(ctx context.Context, analysisID string, analysis *domain.AIAnalysis) error
	ListStalledAnalyses(ctx context.Context, limit int, processingBefore time.Time) ([]domain.AnalysisRecord, error)
}

// FrameExtractor triggers the external video-to-frames function.
type FrameExtractor interface {
	TriggerExtraction(ctx context.Context, bucket, key, analysisID, userID string) error
}

// swingAnalyzer is the slice of SwingAnalyzer the status machine consumes.
type swingAnalyzer interface {
	Analyze(ctx context.Context, rec *domain.AnalysisRecord) (*domain.AIAnalysis, error)
}

// AnalysisService drives a swing record through its lifecycle:
// STARTED -> EXTRACTING_FRAMES -> COMPLETED -> AI_PROCESSING -> AI_COMPLETED,
// with FAILED reachable from any non-terminal state. Upload events, stream
// change notifications, and the periodic sweep all race into here; the only
// defenses are the idempotent create check and the ai_analysis_completed
// flag, so duplicate AI invocations are possible and tolerated.
type AnalysisService struct {
	store           RecordStore
	extractor       FrameExtractor
	analyzer        swingAnalyzer
	sweepBatch      int
	processingStale time.Duration
}

func NewAnalysisService(store RecordStore, extractor FrameExtractor, analyzer swingAnalyzer) (*AnalysisService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if extractor == nil {
		return nil, errors.New("usecase: frame extractor must not be nil")
	}
	if analyzer == nil {
		return nil, errors.New("usecase: analyzer must not be nil")
	}
	return &AnalysisService{
		store:           store,
		extractor:       extractor,
		analyzer:        analyzer,
		sweepBatch:      defaultSweepBatch,
		processingStale: defaultProcessingStale,
	}, nil
}

// StartOrResume is the idempotent entry for an upload event. An existing
// record is never overwritten: the only action taken on one is opportunistic
// AI resumption when frames are done but coaching is not (duplicate or
// retried triggers land here). A fresh record is inserted at STARTED with
// ai_analysis_completed set false explicitly so change detection can tell
// "not yet analyzed" from "field absent".
func (s *AnalysisService) StartOrResume(ctx context.Context, analysisID, bucket, key, userID string) error {
	if analysisID == "" {
		return newError(ErrorInvalidInput, "missing_analysis_id", nil)
	}

	existing, err := s.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return newError(ErrorInternal, "record_read_error", err)
	}
	if existing != nil {
		if existing.Status == domain.StatusCompleted && !existing.AIAnalysisCompleted {
			slog.Info("resuming AI analysis for existing record", "analysisId", analysisID)
			return s.Process(ctx, existing)
		}
		slog.Info("record already exists, nothing to do",
			"analysisId", analysisID, "status", existing.Status)
		return nil
	}

	now := time.Now().UTC()
	rec := domain.AnalysisRecord{
		AnalysisID:          analysisID,
		UserID:              userID,
		Status:              domain.StatusStarted,
		Bucket:              bucket,
		S3Key:               key,
		AIAnalysisCompleted: false,
		ProgressMessage:     "Upload received, analysis starting...",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateAnalysis(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Lost a create race with a concurrent trigger. Not an error.
			slog.Info("record created concurrently, skipping", "analysisId", analysisID)
			return nil
		}
		return newError(ErrorInternal, "record_create_error", err)
	}
	return nil
}

// HandleRecordChange reacts to one stream change notification carrying the
// record's new state. STARTED records get the frame extractor fired;
// COMPLETED records without coaching get the AI pass. Everything else is a
// no-op: terminal and in-flight states need no reaction.
func (s *AnalysisService) HandleRecordChange(ctx context.Context, rec domain.AnalysisRecord) error {
	switch {
	case rec.Status == domain.StatusStarted:
		if err := s.extractor.TriggerExtraction(ctx, rec.Bucket, rec.S3Key, rec.AnalysisID, rec.UserID); err != nil {
			s.fail(ctx, rec.AnalysisID, fmt.Errorf("frame extraction trigger: %w", err))
			return newError(ErrorInternal, "extraction_trigger_error", err)
		}
		if err := s.store.UpdateStatus(ctx, rec.AnalysisID, domain.StatusExtractingFrames, "Extracting swing frames from video..."); err != nil {
			return newError(ErrorInternal, "status_update_error", err)
		}
		return nil

	case rec.Status == domain.StatusCompleted && !rec.AIAnalysisCompleted:
		return s.Process(ctx, &rec)

	default:
		return nil
	}
}

// Process runs the AI coaching pass for a record whose frames are extracted.
// On analysis failure the record moves to FAILED with the error text in the
// progress message, and the error propagates so the invocation infrastructure
// records it. A failed result-store write leaves the record AI_PROCESSING
// with no analysis persisted; there is no cross-stage transaction, and the
// sweep picks the record back up once it goes stale.
func (s *AnalysisService) Process(ctx context.Context, rec *domain.AnalysisRecord) error {
	if err := s.store.UpdateStatus(ctx, rec.AnalysisID, domain.StatusAIProcessing, "AI coaching analysis in progress..."); err != nil {
		return newError(ErrorInternal, "status_update_error", err)
	}

	analysis, err := s.analyzer.Analyze(ctx, rec)
	if err != nil {
		s.fail(ctx, rec.AnalysisID, err)
		return err
	}

	if err := s.store.SaveAIAnalysis(ctx, rec.AnalysisID, analysis); err != nil {
		return newError(ErrorInternal, "analysis_write_error", err)
	}
	slog.Info("AI analysis complete", "analysisId", rec.AnalysisID, "threadId", analysis.ThreadID)
	return nil
}

// Sweep reprocesses up to sweepBatch records whose AI pass never finished:
// COMPLETED without coaching (missed or out-of-order change notifications)
// and AI_PROCESSING with no write within processingStale (crashed worker or
// failed result write). Per-record failures are logged and the sweep moves on.
func (s *AnalysisService) Sweep(ctx context.Context) (int, error) {
	stalled, err := s.store.ListStalledAnalyses(ctx, s.sweepBatch, time.Now().UTC().Add(-s.processingStale))
	if err != nil {
		return 0, newError(ErrorInternal, "sweep_list_error", err)
	}

	processed := 0
	for i := range stalled {
		rec := stalled[i]
		if err := s.Process(ctx, &rec); err != nil {
			slog.Error("sweep reprocess failed", "analysisId", rec.AnalysisID, "err", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *AnalysisService) fail(ctx context.Context, analysisID string, cause error) {
	msg := "Analysis failed: " + cause.Error()
	if status, ok := UpstreamStatus(cause); ok {
		msg = UserFacingMessage(status)
	}
	if err := s.store.UpdateStatus(ctx, analysisID, domain.StatusFailed, msg); err != nil {
		slog.Error("failed to record FAILED status", "analysisId", analysisID, "err", err)
	}
}
