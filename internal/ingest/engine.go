// Package ingest runs the ingestion of one uploaded file: claim, prepare
// fields, detect the dialect, plan and split the remaining rows, process the
// chunks in a bounded worker pool and complete the file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/JonMunkholm/checkin/internal/chunk"
	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/dialect"
	"github.com/JonMunkholm/checkin/internal/fields"
	"github.com/JonMunkholm/checkin/internal/lifecycle"
	"github.com/JonMunkholm/checkin/internal/logging"
	"github.com/JonMunkholm/checkin/internal/progress"
)

// Default worker sizing.
const (
	DefaultMaxWorkers       = 8
	DefaultMinRowsPerWorker = 1000
)

// RecordSink commits batches of records. CommitBatch must upsert the
// records, add their count to the file's processed rows and advance the
// batch's checkpoint in one transaction.
type RecordSink interface {
	CommitBatch(ctx context.Context, b core.Batch) error
	Close(ctx context.Context) error
}

// Connector opens one sink per worker.
type Connector interface {
	Connect(ctx context.Context) (RecordSink, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (RecordSink, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context) (RecordSink, error) {
	return f(ctx)
}

// FieldSource returns the field definitions of a checklist.
type FieldSource interface {
	Fields(ctx context.Context, checklistID string) ([]core.FieldDefinition, error)
}

// FileStore is the file record storage the engine needs.
type FileStore interface {
	lifecycle.Store
	SetTotalRows(ctx context.Context, id string, total int64) error
}

// CompletionHook is notified once when a file completes.
type CompletionHook interface {
	OnCompleted(ctx context.Context, ev core.CompletionEvent) error
}

// Deps are the collaborators of an Engine. Hook is optional.
type Deps struct {
	Files     FileStore
	Ledger    progress.Ledger
	Fields    FieldSource
	Registry  fields.CommonIDRegistry
	Connector Connector
	Hook      CompletionHook
}

// Engine ingests files.
type Engine struct {
	files       FileStore
	source      FieldSource
	registry    fields.CommonIDRegistry
	connector   Connector
	hook        CompletionHook
	machine     *lifecycle.Machine
	coordinator *progress.Coordinator

	logger           *slog.Logger
	detector         dialect.Detector
	batchSize        int
	parallelism      int
	maxWorkers       int
	minRowsPerWorker int
	chunkDir         string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchSize sets the records per commit.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxWorkers caps the workers of a run.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithMinRowsPerWorker sets the smallest slice worth a worker of its own.
func WithMinRowsPerWorker(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minRowsPerWorker = n
		}
	}
}

// WithParallelism overrides the available parallelism, which defaults to
// the CPU count.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithChunkDir sets where chunk files are written. Defaults to os.TempDir().
func WithChunkDir(dir string) Option {
	return func(e *Engine) { e.chunkDir = dir }
}

// WithDetector sets the dialect detector.
func WithDetector(d dialect.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// NewEngine returns an Engine. Every dependency except the hook is required.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Files == nil:
		return nil, errors.New("ingest: file store is required")
	case deps.Ledger == nil:
		return nil, errors.New("ingest: checkpoint ledger is required")
	case deps.Fields == nil:
		return nil, errors.New("ingest: field source is required")
	case deps.Registry == nil:
		return nil, errors.New("ingest: common id registry is required")
	case deps.Connector == nil:
		return nil, errors.New("ingest: connector is required")
	}

	e := &Engine{
		files:            deps.Files,
		source:           deps.Fields,
		registry:         deps.Registry,
		connector:        deps.Connector,
		hook:             deps.Hook,
		machine:          lifecycle.New(deps.Files),
		coordinator:      progress.NewCoordinator(deps.Ledger),
		logger:           slog.Default(),
		detector:         dialect.DefaultDetector,
		batchSize:        DefaultBatchSize,
		parallelism:      runtime.NumCPU(),
		maxWorkers:       DefaultMaxWorkers,
		minRowsPerWorker: DefaultMinRowsPerWorker,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Machine returns the lifecycle machine the engine drives.
func (e *Engine) Machine() *lifecycle.Machine {
	return e.machine
}

// Retry returns a Failed file to Pending.
func (e *Engine) Retry(ctx context.Context, fileID string) (core.FileUpload, error) {
	return e.machine.Retry(ctx, fileID)
}

// Detector returns the dialect detector used for runs and registration.
func (e *Engine) Detector() dialect.Detector {
	return e.detector
}

// Result describes one run.
type Result struct {
	FileID    string        `json:"fileId"`
	TotalRows int64         `json:"totalRows"`
	Skipped   int64         `json:"skipped"` // rows committed before this run
	Rows      int64         `json:"rows"`    // rows committed by this run
	Chunks    int           `json:"chunks"`
	Resumed   bool          `json:"resumed"`
	Completed bool          `json:"completed"` // this run moved the file to Completed
	Duration  time.Duration `json:"duration"`
}

// Run ingests the file with fileID. The file must be Pending or Failed. Any
// error after the claim marks the file Failed with a coded message; a failed
// completion hook is logged and returned while the file stays Completed.
func (e *Engine) Run(ctx context.Context, fileID string) (Result, error) {
	start := time.Now()
	ctx = core.ContextWithFileID(ctx, fileID)
	logger := logging.Enrich(ctx, e.logger)

	res := Result{FileID: fileID}

	rec, err := e.machine.Claim(ctx, fileID)
	if err != nil {
		return res, err
	}
	logger.Info("file claimed", "path", rec.FilePath, "processed_rows", rec.ProcessedRows)

	prepared, err := e.process(ctx, rec, &res, logger)
	if err == nil {
		var done bool
		rec, done, err = e.machine.Complete(ctx, fileID)
		res.Completed = done
	}
	res.Duration = time.Since(start)

	if err != nil {
		if _, ferr := e.machine.Fail(context.WithoutCancel(ctx), fileID, err); ferr != nil {
			logger.Error("mark file failed", "error", ferr)
			err = errors.Join(err, ferr)
		}
		logger.Error("ingest failed", "rows", res.Rows, "duration", res.Duration, "error", err)
		return res, err
	}

	logger.Info("ingest completed",
		"rows", res.Rows,
		"total_rows", res.TotalRows,
		"chunks", res.Chunks,
		"resumed", res.Resumed,
		"duration", res.Duration,
	)

	if !res.Completed {
		return res, nil
	}

	if err := e.coordinator.Finish(ctx, fileID); err != nil {
		logger.Warn("checkpoints not cleared", "error", err)
	}

	if e.hook == nil {
		return res, nil
	}
	ev := core.CompletionEvent{
		FileID:        rec.ID,
		FileName:      rec.FileName,
		ChecklistID:   rec.ChecklistID,
		InspectionID:  rec.InspectionID,
		UserID:        rec.UserID,
		ProcessedRows: rec.ProcessedRows,
		Fields:        fields.Summaries(prepared),
		CompletedAt:   rec.UpdatedAt,
	}
	if err := e.hook.OnCompleted(ctx, ev); err != nil {
		logger.Error("completion hook failed", "error", err)
		return res, fmt.Errorf("completion hook: %w", err)
	}
	return res, nil
}

// process does the work of a claimed file and returns its prepared fields.
func (e *Engine) process(ctx context.Context, rec core.FileUpload, res *Result, logger *slog.Logger) ([]fields.Field, error) {
	defs, err := e.source.Fields(ctx, rec.ChecklistID)
	if err != nil {
		if !errors.Is(err, core.ErrMetadata) {
			err = fmt.Errorf("%w: %v", core.ErrMetadata, err)
		}
		return nil, err
	}
	prepared, err := fields.Prepare(ctx, defs, e.registry)
	if err != nil {
		return nil, err
	}

	detected, err := e.detector.Detect(rec.FilePath)
	if err != nil {
		return nil, err
	}
	if len(detected.Header) < len(prepared) {
		logger.Warn("header narrower than field list",
			"columns", len(detected.Header), "fields", len(prepared))
	}

	total, err := chunk.CountRows(ctx, rec.FilePath, detected.Dialect)
	if err != nil {
		return nil, err
	}
	if err := e.files.SetTotalRows(ctx, rec.ID, total); err != nil {
		return nil, fmt.Errorf("%w: set total rows: %v", core.ErrPersistence, err)
	}
	res.TotalRows = total

	plan, err := e.coordinator.Plan(ctx, rec, total, e.workers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	res.Skipped = total - plan.Remaining
	res.Resumed = plan.Resumed
	res.Chunks = len(plan.Chunks)

	logger.Info("run planned",
		"dialect", detected.Dialect.String(),
		"total_rows", total,
		"remaining", plan.Remaining,
		"chunks", len(plan.Chunks),
		"resumed", plan.Resumed,
	)
	if len(plan.Chunks) == 0 {
		return prepared, nil
	}

	dir, err := os.MkdirTemp(e.chunkDir, "ingest-"+rec.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	defer os.RemoveAll(dir)

	chunks, err := chunk.Splitter{Dir: dir, Dialect: detected.Dialect}.Split(ctx, rec.FilePath, plan.Chunks)
	if err != nil {
		return nil, err
	}

	rows, err := e.runChunks(ctx, rec, prepared, detected.Dialect.UTF8(), chunks, logger)
	res.Rows = rows
	if err != nil {
		return nil, err
	}
	if rows != plan.Remaining {
		return nil, fmt.Errorf("%w: committed %d rows, planned %d", core.ErrFormat, rows, plan.Remaining)
	}
	return prepared, nil
}

func (e *Engine) workers(remaining int64) int {
	return chunk.Workers(remaining, e.parallelism, e.maxWorkers, e.minRowsPerWorker)
}

// runChunks processes every chunk on its own pool worker and returns the
// rows committed across all of them.
func (e *Engine) runChunks(ctx context.Context, rec core.FileUpload, prepared []fields.Field, d dialect.Dialect, chunks []core.Chunk, logger *slog.Logger) (int64, error) {
	pool, err := ants.NewPool(len(chunks), ants.WithLogger(logging.Printf{Logger: logger}))
	if err != nil {
		chunk.Remove(chunks)
		return 0, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		counts = make([]int64, len(chunks))
		errs   = make([]error, len(chunks))
	)

	for i, c := range chunks {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					errs[i] = fmt.Errorf("chunk %d panicked: %v", c.Index, p)
				}
			}()
			counts[i], errs[i] = e.runChunk(ctx, rec, prepared, d, c, logger)
		})
		if err != nil {
			wg.Done()
			chunk.Remove([]core.Chunk{c})
			errs[i] = fmt.Errorf("submit chunk %d: %w", c.Index, err)
		}
	}
	wg.Wait()

	var rows int64
	for _, n := range counts {
		rows += n
	}
	return rows, errors.Join(errs...)
}

func (e *Engine) runChunk(ctx context.Context, rec core.FileUpload, prepared []fields.Field, d dialect.Dialect, c core.Chunk, logger *slog.Logger) (int64, error) {
	sink, err := e.connector.Connect(ctx)
	if err != nil {
		chunk.Remove([]core.Chunk{c})
		if !errors.Is(err, core.ErrPersistence) {
			err = fmt.Errorf("%w: %v", core.ErrPersistence, err)
		}
		return 0, fmt.Errorf("connect chunk %d: %w", c.Index, err)
	}
	defer func() {
		if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close sink", "chunk", c.Index, "error", err)
		}
	}()

	w := &Worker{
		Sink:      sink,
		File:      rec,
		Fields:    prepared,
		Dialect:   d,
		BatchSize: e.batchSize,
		Logger:    logger,
	}
	return w.Process(ctx, c)
}
