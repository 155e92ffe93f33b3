package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/store"
)

func newFile(t *testing.T, m *store.Memory) core.FileUpload {
	t.Helper()
	f, err := m.CreateFile(context.Background(), core.FileUpload{ChecklistID: "c", InspectionID: "i"})
	require.NoError(t, err)
	return f
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to core.Status
		want     bool
	}{
		{core.StatusPending, core.StatusProcessing, true},
		{core.StatusFailed, core.StatusProcessing, true},
		{core.StatusProcessing, core.StatusCompleted, true},
		{core.StatusProcessing, core.StatusFailed, true},
		{core.StatusFailed, core.StatusPending, true},
		{core.StatusPending, core.StatusCompleted, false},
		{core.StatusCompleted, core.StatusProcessing, false},
		{core.StatusCompleted, core.StatusPending, false},
		{core.StatusProcessing, core.StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	sm := New(m)
	f := newFile(t, m)

	rec, err := sm.Claim(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, rec.Status)

	rec, done, err := sm.Complete(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, core.StatusCompleted, rec.Status)

	// completing again is a no-op
	rec, done, err = sm.Complete(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, core.StatusCompleted, rec.Status)

	_, err = sm.Claim(ctx, f.ID)
	require.ErrorIs(t, err, core.ErrNotClaimable)
}

func TestMachine_FailAndRetry(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	sm := New(m)
	f := newFile(t, m)

	_, err := sm.Fail(ctx, f.ID, errors.New("boom"))
	require.ErrorIs(t, err, core.ErrInvalidTransition, "only Processing files can fail")

	_, err = sm.Claim(ctx, f.ID)
	require.NoError(t, err)

	rec, err := sm.Fail(ctx, f.ID, core.ErrFormat)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "FMT002")

	// a failed file may be claimed directly
	rec, err = sm.Claim(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.ErrorMessage)

	_, err = sm.Fail(ctx, f.ID, errors.New("again"))
	require.NoError(t, err)

	rec, err = sm.Retry(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, rec.Status)

	_, err = sm.Retry(ctx, f.ID)
	require.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestMachine_CompleteRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	f := newFile(t, m)

	_, done, err := New(m).Complete(ctx, f.ID)
	require.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.False(t, done)
}

func TestMachine_UnknownFile(t *testing.T) {
	_, err := New(store.NewMemory()).Claim(context.Background(), "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestMachine_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	sm := New(m)
	f := newFile(t, m)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sm.Claim(ctx, f.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
