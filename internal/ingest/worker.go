package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/dialect"
	"github.com/JonMunkholm/checkin/internal/fields"
	"github.com/JonMunkholm/checkin/internal/scoring"
)

// DefaultBatchSize is the number of records committed per transaction.
const DefaultBatchSize = 10000

// contextCheckInterval is how many rows a worker reads between context checks.
const contextCheckInterval = 1000

// Worker turns the rows of one chunk into output records and commits them
// through its own sink.
type Worker struct {
	Sink      RecordSink
	File      core.FileUpload
	Fields    []fields.Field
	Dialect   dialect.Dialect // dialect of the chunk file
	BatchSize int
	Logger    *slog.Logger
}

// Process reads at most c.Count data rows from the chunk file, scoring each
// column against the field at the same position, and commits the records in
// batches. It returns the number of rows committed. The chunk file is
// removed when Process returns, whether or not it succeeded.
func (w *Worker) Process(ctx context.Context, c core.Chunk) (int64, error) {
	defer os.Remove(c.Path)

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chunk", c.Index, "from", c.From, "count", c.Count)

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	r, err := dialect.Open(c.Path, w.Dialect)
	if err != nil {
		return 0, fmt.Errorf("open chunk %d: %w", c.Index, err)
	}
	defer r.Close()

	var (
		committed int64
		local     int64
		read      int64
		batch     = make([]core.OutputRecord, 0, min(int64(batchSize), c.Count))
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := w.Sink.CommitBatch(ctx, core.Batch{
			FileID:         w.File.ID,
			CheckpointFrom: c.CheckpointFrom,
			Records:        batch,
		})
		if err != nil {
			return fmt.Errorf("commit chunk %d at row %d: %w", c.Index, c.From+committed, err)
		}
		committed += int64(len(batch))
		batch = make([]core.OutputRecord, 0, cap(batch))
		return nil
	}

	for local < c.Count {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return committed, fmt.Errorf("%w: chunk %d ended after %d of %d rows",
				core.ErrFormat, c.Index, local, c.Count)
		}
		if err != nil {
			return committed, fmt.Errorf("%w: chunk %d row %d: %v", core.ErrFormat, c.Index, local, err)
		}

		read++
		if read%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return committed, err
			}
		}

		row = dialect.TrimRow(row)
		if dialect.IsEmptyRow(row) {
			continue
		}

		batch = append(batch, w.record(row, c.OrderStart+local, logger))
		local++

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return committed, err
			}
		}
	}

	if err := flush(); err != nil {
		return committed, err
	}

	logger.Debug("chunk committed", "rows", committed)
	return committed, nil
}

// record scores row into the output record with the given order. A field
// whose score rules are malformed keeps its zero answer.
func (w *Worker) record(row []string, order int64, logger *slog.Logger) core.OutputRecord {
	answers := make([]core.Answer, len(w.Fields))
	for i := range w.Fields {
		var raw string
		if i < len(row) {
			raw = row[i]
		}

		a, err := scoring.Score(raw, &w.Fields[i])
		if err != nil {
			logger.Warn("score rule skipped", "order", order, "error", err)
		}
		answers[i] = a
	}

	return core.OutputRecord{
		FileID:       w.File.ID,
		ChecklistID:  w.File.ChecklistID,
		InspectionID: w.File.InspectionID,
		UserID:       w.File.UserID,
		Order:        order,
		Answers:      answers,
	}
}
