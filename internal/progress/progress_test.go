package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/checkin/internal/core"
)

type fakeLedger struct {
	cps     map[string][]core.Checkpoint
	saveErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{cps: map[string][]core.Checkpoint{}}
}

func (l *fakeLedger) Checkpoints(_ context.Context, fileID string) ([]core.Checkpoint, error) {
	return l.cps[fileID], nil
}

func (l *fakeLedger) SaveCheckpoints(_ context.Context, fileID string, cps []core.Checkpoint) error {
	if l.saveErr != nil {
		return l.saveErr
	}
	l.cps[fileID] = cps
	return nil
}

func (l *fakeLedger) ClearCheckpoints(_ context.Context, fileID string) error {
	delete(l.cps, fileID)
	return nil
}

func fixed(n int) WorkersFunc {
	return func(int64) int { return n }
}

func TestResume(t *testing.T) {
	cur := Resume(core.FileUpload{ProcessedRows: 4, OrderStartBase: 100})
	assert.Equal(t, Cursor{Skip: 4, RunOrderBase: 104}, cur)
}

func TestPlan_FreshFromCursor(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCoordinator(ledger)
	rec := core.FileUpload{ID: "f1", ProcessedRows: 4}

	plan, err := c.Plan(context.Background(), rec, 10, fixed(2))
	require.NoError(t, err)

	assert.False(t, plan.Resumed)
	assert.Equal(t, int64(6), plan.Remaining)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, int64(4), plan.Chunks[0].OrderStart)
	assert.Equal(t, int64(7), plan.Chunks[1].OrderStart)

	saved := ledger.cps["f1"]
	require.Len(t, saved, 2)
	assert.Equal(t, core.Checkpoint{FileID: "f1", From: 4, Count: 3}, saved[0])
	assert.Equal(t, core.Checkpoint{FileID: "f1", From: 7, Count: 3}, saved[1])
}

func TestPlan_NothingRemaining(t *testing.T) {
	ledger := newFakeLedger()
	c := NewCoordinator(ledger)

	plan, err := c.Plan(context.Background(), core.FileUpload{ID: "f1", ProcessedRows: 10}, 10, fixed(4))
	require.NoError(t, err)

	assert.Empty(t, plan.Chunks)
	assert.Zero(t, plan.Remaining)
	assert.Empty(t, ledger.cps, "no checkpoints for an empty plan")
}

func TestPlan_ResumesFromCheckpoints(t *testing.T) {
	ledger := newFakeLedger()
	ledger.cps["f1"] = []core.Checkpoint{
		{FileID: "f1", From: 0, Count: 5, Committed: 5},
		{FileID: "f1", From: 5, Count: 5, Committed: 2},
		{FileID: "f1", From: 10, Count: 6, Committed: 0},
	}
	// chunk 2 committed nothing while chunk 1 committed two rows, so the
	// counter (7) is not a prefix of the file
	rec := core.FileUpload{ID: "f1", ProcessedRows: 7, OrderStartBase: 50}

	plan, err := NewCoordinator(ledger).Plan(context.Background(), rec, 16, fixed(8))
	require.NoError(t, err)

	assert.True(t, plan.Resumed)
	assert.Equal(t, int64(9), plan.Remaining)
	require.Len(t, plan.Chunks, 2)

	assert.Equal(t, core.Chunk{Index: 0, From: 7, Count: 3, OrderStart: 57, CheckpointFrom: 5}, plan.Chunks[0])
	assert.Equal(t, core.Chunk{Index: 1, From: 10, Count: 6, OrderStart: 60, CheckpointFrom: 10}, plan.Chunks[1])
}

func TestPlan_SaveFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.saveErr = errors.New("disk full")

	_, err := NewCoordinator(ledger).Plan(context.Background(), core.FileUpload{ID: "f1"}, 10, fixed(2))
	require.ErrorIs(t, err, ledger.saveErr)
}

func TestFinish(t *testing.T) {
	ledger := newFakeLedger()
	ledger.cps["f1"] = []core.Checkpoint{{FileID: "f1", Count: 1}}

	require.NoError(t, NewCoordinator(ledger).Finish(context.Background(), "f1"))
	assert.Empty(t, ledger.cps)
}
