package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/dialect"
)

// contextCheckInterval is how many rows are read between cancellation checks.
const contextCheckInterval = 1000

// CountRows returns the number of non-empty data rows after the header.
func CountRows(ctx context.Context, path string, d dialect.Dialect) (int64, error) {
	r, err := dialect.Open(path, d)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read header: %v", core.ErrFormat, err)
	}

	var n, seen int64
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: row %d: %v", core.ErrFormat, seen+1, err)
		}
		seen++
		if seen%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if !dialect.IsEmptyRow(row) {
			n++
		}
	}
}

// Splitter writes chunk files.
type Splitter struct {
	Dir     string          // directory for chunk files
	Dialect dialect.Dialect // dialect of the source file
}

// Split reads path once and writes the rows of every chunk to its own file
// in s.Dir, in the source dialect re-encoded as UTF-8. Empty rows are
// dropped and do not count as data rows. Rows outside every chunk are
// skipped. The returned chunks have Path set.
func (s Splitter) Split(ctx context.Context, path string, chunks []core.Chunk) ([]core.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]core.Chunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })

	r, err := dialect.Open(path, s.Dialect)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", core.ErrFormat, err)
	}

	written := 0
	fail := func(err error) ([]core.Chunk, error) {
		Remove(out[:written])
		return nil, err
	}

	var (
		index int64 // data row index
		seen  int64
	)
	for i := range out {
		c := &out[i]
		if c.Count <= 0 {
			continue
		}

		f, err := os.CreateTemp(s.Dir, fmt.Sprintf("chunk-%03d-*.csv", c.Index))
		if err != nil {
			return fail(fmt.Errorf("create chunk file: %w", err))
		}
		c.Path = f.Name()
		written = i + 1

		w := dialect.NewWriter(f, s.Dialect.UTF8())
		end := c.From + c.Count

		for index < end {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				f.Close()
				return fail(fmt.Errorf("%w: file ended at data row %d, chunk %d needs rows up to %d",
					core.ErrFormat, index, c.Index, end))
			}
			if err != nil {
				f.Close()
				return fail(fmt.Errorf("%w: row %d: %v", core.ErrFormat, seen+1, err))
			}

			seen++
			if seen%contextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					f.Close()
					return fail(err)
				}
			}

			if dialect.IsEmptyRow(row) {
				continue
			}
			if index >= c.From {
				if err := w.Write(row); err != nil {
					f.Close()
					return fail(fmt.Errorf("write chunk %d: %w", c.Index, err))
				}
			}
			index++
		}

		if err := w.Flush(); err != nil {
			f.Close()
			return fail(fmt.Errorf("flush chunk %d: %w", c.Index, err))
		}
		if err := f.Close(); err != nil {
			return fail(fmt.Errorf("close chunk %d: %w", c.Index, err))
		}
	}

	return out, nil
}

// Remove deletes the files of chunks, ignoring ones already gone.
func Remove(chunks []core.Chunk) {
	for _, c := range chunks {
		if c.Path != "" {
			os.Remove(c.Path)
		}
	}
}
