// Package lifecycle is the state machine of an uploaded file.
//
//	Pending ──claim──▶ Processing ──▶ Completed
//	   ▲                  │   ▲
//	   │                  ▼   │ claim
//	   └────retry────── Failed ┘
//
// Every transition is a single conditional update in the store, so two
// concurrent claims of the same file cannot both succeed.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/checkin/internal/core"
)

// Store applies conditional status updates. TransitionFile moves the file
// to `to` only if its status is one of from, setting its error message, and
// reports whether it did. When it did not, the current record is returned.
// A missing file is core.ErrNotFound.
type Store interface {
	TransitionFile(ctx context.Context, id string, from []core.Status, to core.Status, message string) (core.FileUpload, bool, error)
}

var transitions = map[core.Status][]core.Status{
	core.StatusPending:    {core.StatusProcessing},
	core.StatusFailed:     {core.StatusProcessing, core.StatusPending},
	core.StatusProcessing: {core.StatusCompleted, core.StatusFailed},
}

var statuses = []core.Status{
	core.StatusPending, core.StatusProcessing, core.StatusCompleted, core.StatusFailed,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to core.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sources returns every status that may move to to.
func sources(to core.Status) []core.Status {
	var out []core.Status
	for _, s := range statuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// Machine drives files through their lifecycle.
type Machine struct {
	store Store
}

// New returns a Machine over store.
func New(store Store) *Machine {
	return &Machine{store: store}
}

// Claim moves a Pending or Failed file to Processing and returns it. Any
// other state is core.ErrNotClaimable.
func (m *Machine) Claim(ctx context.Context, id string) (core.FileUpload, error) {
	rec, ok, err := m.store.TransitionFile(ctx, id, sources(core.StatusProcessing), core.StatusProcessing, "")
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("claim %s: %w", id, err)
	}
	if !ok {
		return rec, fmt.Errorf("claim %s in status %s: %w", id, rec.Status, core.ErrNotClaimable)
	}
	return rec, nil
}

// Complete moves a Processing file to Completed. The bool reports whether
// this call made the transition; completing an already Completed file is a no-op.
func (m *Machine) Complete(ctx context.Context, id string) (core.FileUpload, bool, error) {
	rec, ok, err := m.store.TransitionFile(ctx, id, sources(core.StatusCompleted), core.StatusCompleted, "")
	if err != nil {
		return core.FileUpload{}, false, fmt.Errorf("complete %s: %w", id, err)
	}
	if ok {
		return rec, true, nil
	}
	if rec.Status == core.StatusCompleted {
		return rec, false, nil
	}
	return rec, false, fmt.Errorf("complete %s in status %s: %w", id, rec.Status, core.ErrInvalidTransition)
}

// Fail moves a Processing file to Failed with a message derived from cause.
func (m *Machine) Fail(ctx context.Context, id string, cause error) (core.FileUpload, error) {
	rec, ok, err := m.store.TransitionFile(ctx, id, sources(core.StatusFailed), core.StatusFailed, core.FailureMessage(cause))
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("fail %s: %w", id, err)
	}
	if !ok {
		return rec, fmt.Errorf("fail %s in status %s: %w", id, rec.Status, core.ErrInvalidTransition)
	}
	return rec, nil
}

// Retry moves a Failed file back to Pending. It is an operator decision,
// never taken automatically.
func (m *Machine) Retry(ctx context.Context, id string) (core.FileUpload, error) {
	rec, ok, err := m.store.TransitionFile(ctx, id, sources(core.StatusPending), core.StatusPending, "")
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("retry %s: %w", id, err)
	}
	if !ok {
		return rec, fmt.Errorf("retry %s in status %s: %w", id, rec.Status, core.ErrInvalidTransition)
	}
	return rec, nil
}
