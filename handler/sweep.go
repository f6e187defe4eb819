package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

// Sweeper reprocesses stalled analyses.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweep is the scheduled fallback entry: it catches records whose change
// notifications were missed or arrived out of order.
type Sweep struct {
	svc Sweeper
}

func NewSweep(svc Sweeper) (*Sweep, error) {
	if svc == nil {
		return nil, errors.New("handler: sweeper must not be nil")
	}
	return &Sweep{svc: svc}, nil
}

func (h *Sweep) Handle(ctx context.Context, _ events.CloudWatchEvent) error {
	processed, err := h.svc.Sweep(ctx)
	if err != nil {
		return err
	}
	slog.Info("sweep finished", "processed", processed)
	return nil
}
