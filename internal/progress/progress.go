// Package progress turns a file's durable counters into the plan of rows a
// run still has to process.
//
// ProcessedRows and OrderStartBase are the resume cursor. Because workers
// commit their chunks concurrently, the committed rows of an interrupted run
// need not be a prefix of the file, so every planned chunk also has a
// checkpoint that advances in the same transaction as its batches. Within a
// chunk rows are committed in order, which makes each checkpoint's committed
// rows a prefix of that chunk.
package progress

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/checkin/internal/chunk"
	"github.com/JonMunkholm/checkin/internal/core"
)

// Ledger stores the chunk checkpoints of a file.
type Ledger interface {
	Checkpoints(ctx context.Context, fileID string) ([]core.Checkpoint, error)
	SaveCheckpoints(ctx context.Context, fileID string, cps []core.Checkpoint) error
	ClearCheckpoints(ctx context.Context, fileID string) error
}

// Cursor is where a fresh plan starts.
type Cursor struct {
	Skip         int64 // data rows already committed
	RunOrderBase int64 // order of the first row to process
}

// Resume returns the cursor for a file record.
func Resume(rec core.FileUpload) Cursor {
	return Cursor{
		Skip:         rec.ProcessedRows,
		RunOrderBase: rec.OrderStartBase + rec.ProcessedRows,
	}
}

// WorkersFunc returns the worker count for a number of remaining rows.
type WorkersFunc func(remaining int64) int

// Plan is the work left for a run.
type Plan struct {
	Cursor    Cursor
	Chunks    []core.Chunk
	Remaining int64
	Resumed   bool // chunks come from checkpoints of an interrupted run
}

// Coordinator plans runs and retires checkpoints.
type Coordinator struct {
	ledger Ledger
}

// NewCoordinator returns a Coordinator backed by ledger.
func NewCoordinator(ledger Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// Plan returns the chunks still to process for rec, whose file has total
// data rows. Checkpoints left by an interrupted run take precedence;
// otherwise the rows after the cursor are split fresh and the new
// checkpoints are saved before any worker starts.
func (c *Coordinator) Plan(ctx context.Context, rec core.FileUpload, total int64, workers WorkersFunc) (Plan, error) {
	plan := Plan{Cursor: Resume(rec)}

	cps, err := c.ledger.Checkpoints(ctx, rec.ID)
	if err != nil {
		return Plan{}, fmt.Errorf("load checkpoints: %w", err)
	}

	if len(cps) > 0 {
		plan.Resumed = true
		for _, cp := range cps {
			left := cp.Remaining()
			if left == 0 {
				continue
			}
			from := cp.From + cp.Committed
			plan.Chunks = append(plan.Chunks, core.Chunk{
				Index:          len(plan.Chunks),
				From:           from,
				Count:          left,
				OrderStart:     rec.OrderStartBase + from,
				CheckpointFrom: cp.From,
			})
			plan.Remaining += left
		}
		return plan, nil
	}

	plan.Remaining = max(0, total-plan.Cursor.Skip)
	if plan.Remaining == 0 {
		return plan, nil
	}

	plan.Chunks = chunk.Plan(total, plan.Cursor.Skip, plan.Cursor.RunOrderBase, workers(plan.Remaining))

	fresh := make([]core.Checkpoint, len(plan.Chunks))
	for i, ch := range plan.Chunks {
		fresh[i] = core.Checkpoint{FileID: rec.ID, From: ch.From, Count: ch.Count}
	}
	if err := c.ledger.SaveCheckpoints(ctx, rec.ID, fresh); err != nil {
		return Plan{}, fmt.Errorf("save checkpoints: %w", err)
	}
	return plan, nil
}

// Finish drops the checkpoints of a completed file.
func (c *Coordinator) Finish(ctx context.Context, fileID string) error {
	if err := c.ledger.ClearCheckpoints(ctx, fileID); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
