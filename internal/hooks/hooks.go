// Package hooks holds the completion hooks run after a file completes: a
// Kafka event for downstream consumers and the checklist summary record.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/logging"
)

// Hook is notified when a file completes.
type Hook interface {
	OnCompleted(ctx context.Context, ev core.CompletionEvent) error
}

// Chain runs every hook in order. A failing hook does not stop the rest;
// their errors are joined.
type Chain []Hook

// OnCompleted implements Hook.
func (c Chain) OnCompleted(ctx context.Context, ev core.CompletionEvent) error {
	var errs []error
	for _, h := range c {
		if err := h.OnCompleted(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SummaryStore creates the per-inspection checklist result.
type SummaryStore interface {
	CreateSummary(ctx context.Context, ev core.CompletionEvent) (bool, error)
}

// Summary creates the checklist result of a completed inspection if it does
// not exist yet.
type Summary struct {
	Store  SummaryStore
	Logger *slog.Logger
}

// OnCompleted implements Hook.
func (s Summary) OnCompleted(ctx context.Context, ev core.CompletionEvent) error {
	created, err := s.Store.CreateSummary(ctx, ev)
	if err != nil {
		return fmt.Errorf("summary for inspection %s: %w", ev.InspectionID, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logging.Enrich(ctx, logger).Info("checklist result",
		"inspection_id", ev.InspectionID,
		"checklist_id", ev.ChecklistID,
		"created", created,
	)
	return nil
}
