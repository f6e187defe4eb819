package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golf-coach/internal/domain"
	"golf-coach/internal/integrations/awslambda"
)

// Processor runs the AI pass for one record.
type Processor interface {
	Process(ctx context.Context, rec *domain.AnalysisRecord) error
}

// Worker handles direct analysis-worker invocations: user-requested runs and
// the results endpoint's stale re-triggers.
type Worker struct {
	records RecordReader
	svc     Processor
}

func NewWorker(records RecordReader, svc Processor) (*Worker, error) {
	if records == nil {
		return nil, errors.New("handler: record reader must not be nil")
	}
	if svc == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	return &Worker{records: records, svc: svc}, nil
}

func (h *Worker) Handle(ctx context.Context, req awslambda.AnalysisRequest) error {
	if req.AnalysisID == "" {
		return errors.New("handler: analysis id is required")
	}
	rec, err := h.records.GetAnalysis(ctx, req.AnalysisID)
	if err != nil {
		return fmt.Errorf("handler: load record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("handler: no analysis found with id %s", req.AnalysisID)
	}
	if rec.AIAnalysisCompleted {
		// Duplicate trigger racing a finished run. Not an error.
		slog.Info("analysis already completed, skipping", "analysisId", req.AnalysisID)
		return nil
	}
	return h.svc.Process(ctx, rec)
}
