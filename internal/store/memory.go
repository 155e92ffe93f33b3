package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/checkin/internal/core"
)

type recordKey struct {
	InspectionID string
	ChecklistID  string
	Order        int64
}

// Memory is an in-process store with the same semantics as Postgres. It
// backs tests and dry runs.
type Memory struct {
	mu          sync.Mutex
	files       map[string]core.FileUpload
	records     map[recordKey]core.OutputRecord
	checkpoints map[string][]core.Checkpoint
	commonIDs   map[string]string
	results     map[core.Target]core.ChecklistResult
	writes      int

	// BeforeCommit, if set, runs before every batch commit. Returning an
	// error aborts the commit with nothing applied.
	BeforeCommit func(core.Batch) error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		files:       make(map[string]core.FileUpload),
		records:     make(map[recordKey]core.OutputRecord),
		checkpoints: make(map[string][]core.Checkpoint),
		commonIDs:   make(map[string]string),
		results:     make(map[core.Target]core.ChecklistResult),
	}
}

// CreateFile registers a Pending file and assigns its OrderStartBase past
// every order committed or reserved for the same target.
func (m *Memory) CreateFile(_ context.Context, f core.FileUpload) (core.FileUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, exists := m.files[f.ID]; exists {
		return core.FileUpload{}, fmt.Errorf("create file %s: duplicate key", f.ID)
	}

	var base int64
	for k := range m.records {
		if k.ChecklistID == f.ChecklistID && k.InspectionID == f.InspectionID && k.Order+1 > base {
			base = k.Order + 1
		}
	}
	for _, other := range m.files {
		if other.Target() == f.Target() {
			base = max(base, other.OrderStartBase+max(other.TotalRows, other.ProcessedRows))
		}
	}

	now := time.Now().UTC()
	f.Status = core.StatusPending
	f.ProcessedRows = 0
	f.OrderStartBase = base
	f.ErrorMessage = ""
	f.CreatedAt, f.UpdatedAt = now, now
	m.files[f.ID] = f
	return f, nil
}

// PutFile stores f as is, for setting up resume scenarios.
func (m *Memory) PutFile(f core.FileUpload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
}

// GetFile returns the file with id.
func (m *Memory) GetFile(_ context.Context, id string) (core.FileUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return core.FileUpload{}, fmt.Errorf("get file %s: %w", id, core.ErrNotFound)
	}
	return f, nil
}

// ListFiles returns files in the given status, or all files when status is
// empty, newest first.
func (m *Memory) ListFiles(_ context.Context, status core.Status, limit int) ([]core.FileUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.FileUpload
	for _, f := range m.files {
		if status == "" || f.Status == status {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransitionFile implements lifecycle.Store.
func (m *Memory) TransitionFile(_ context.Context, id string, from []core.Status, to core.Status, message string) (core.FileUpload, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return core.FileUpload{}, false, fmt.Errorf("transition file %s: %w", id, core.ErrNotFound)
	}
	for _, s := range from {
		if f.Status == s {
			f.Status = to
			f.ErrorMessage = message
			f.UpdatedAt = time.Now().UTC()
			m.files[id] = f
			return f, true, nil
		}
	}
	return f, false, nil
}

// SetTotalRows records the data row count of a file.
func (m *Memory) SetTotalRows(_ context.Context, id string, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return fmt.Errorf("set total rows %s: %w", id, core.ErrNotFound)
	}
	f.TotalRows = total
	m.files[id] = f
	return nil
}

// Checkpoints implements progress.Ledger.
func (m *Memory) Checkpoints(_ context.Context, fileID string) ([]core.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cps := append([]core.Checkpoint(nil), m.checkpoints[fileID]...)
	sort.Slice(cps, func(i, j int) bool { return cps[i].From < cps[j].From })
	return cps, nil
}

// SaveCheckpoints implements progress.Ledger.
func (m *Memory) SaveCheckpoints(_ context.Context, fileID string, cps []core.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[fileID] = append([]core.Checkpoint(nil), cps...)
	return nil
}

// ClearCheckpoints implements progress.Ledger.
func (m *Memory) ClearCheckpoints(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, fileID)
	return nil
}

// Resolve implements fields.CommonIDRegistry.
func (m *Memory) Resolve(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.commonIDs[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.commonIDs[key] = id
	return id, nil
}

// CreateSummary stores the checklist result of ev's target unless one
// exists, and reports whether it did.
func (m *Memory) CreateSummary(_ context.Context, ev core.CompletionEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := core.Target{ChecklistID: ev.ChecklistID, InspectionID: ev.InspectionID}
	if _, exists := m.results[target]; exists {
		return false, nil
	}

	var n int64
	for k := range m.records {
		if k.ChecklistID == target.ChecklistID && k.InspectionID == target.InspectionID {
			n++
		}
	}
	m.results[target] = core.ChecklistResult{
		InspectionID: ev.InspectionID,
		ChecklistID:  ev.ChecklistID,
		UserID:       ev.UserID,
		FileID:       ev.FileID,
		RecordCount:  n,
		Fields:       ev.Fields,
		CreatedAt:    time.Now().UTC(),
	}
	return true, nil
}

// Summary returns the checklist result of a target.
func (m *Memory) Summary(target core.Target) (core.ChecklistResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[target]
	return r, ok
}

// Connect returns a sink writing into m.
func (m *Memory) Connect(context.Context) (*MemorySink, error) {
	return &MemorySink{m: m}, nil
}

// Records returns the records of a target ordered by Order.
func (m *Memory) Records(target core.Target) []core.OutputRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.OutputRecord
	for k, rec := range m.records {
		if k.ChecklistID == target.ChecklistID && k.InspectionID == target.InspectionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Writes returns how many record writes were committed, counting updates
// of existing records.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) commit(b core.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeforeCommit != nil {
		if err := m.BeforeCommit(b); err != nil {
			return fmt.Errorf("%w: %v", core.ErrPersistence, err)
		}
	}

	f, ok := m.files[b.FileID]
	if !ok {
		return fmt.Errorf("%w: file %s missing", core.ErrPersistence, b.FileID)
	}
	cps := m.checkpoints[b.FileID]
	cp := -1
	for i := range cps {
		if cps[i].From == b.CheckpointFrom {
			cp = i
			break
		}
	}
	if cp < 0 {
		return fmt.Errorf("%w: no checkpoint at row %d for file %s", core.ErrPersistence, b.CheckpointFrom, b.FileID)
	}

	n := int64(len(b.Records))
	for _, rec := range b.Records {
		m.records[recordKey{rec.InspectionID, rec.ChecklistID, rec.Order}] = rec
	}
	m.writes += len(b.Records)
	f.ProcessedRows += n
	f.UpdatedAt = time.Now().UTC()
	m.files[b.FileID] = f
	cps[cp].Committed += n
	return nil
}

// MemorySink is one worker's connection to a Memory store.
type MemorySink struct {
	m      *Memory
	closed bool
}

// CommitBatch applies the batch atomically.
func (s *MemorySink) CommitBatch(_ context.Context, b core.Batch) error {
	if s.closed {
		return fmt.Errorf("%w: sink closed", core.ErrPersistence)
	}
	return s.m.commit(b)
}

// Close releases the sink.
func (s *MemorySink) Close(context.Context) error {
	s.closed = true
	return nil
}
