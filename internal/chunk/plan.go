// Package chunk partitions the unprocessed rows of a file into contiguous
// chunks and writes each chunk to its own temporary file.
package chunk

import "github.com/JonMunkholm/checkin/internal/core"

// Workers returns how many workers to use for remaining rows: the smaller
// of parallelism and limit, reduced so that each worker gets at least
// minRows rows. It is at least 1.
func Workers(remaining int64, parallelism, limit, minRows int) int {
	w := parallelism
	if limit > 0 && limit < w {
		w = limit
	}
	if minRows > 0 {
		enough := int((remaining + int64(minRows) - 1) / int64(minRows))
		if enough < w {
			w = enough
		}
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Plan splits the rows after skip into workers contiguous chunks. The last
// chunk absorbs the remainder. Chunk i starts at order
// runOrderBase + rows before it.
func Plan(total, skip, runOrderBase int64, workers int) []core.Chunk {
	if skip < 0 {
		skip = 0
	}
	remaining := total - skip
	if remaining <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if int64(workers) > remaining {
		workers = int(remaining)
	}

	size := remaining / int64(workers)
	chunks := make([]core.Chunk, workers)

	var cumulative int64
	for i := range chunks {
		count := size
		if i == workers-1 {
			count = remaining - cumulative
		}
		chunks[i] = core.Chunk{
			Index:          i,
			From:           skip + cumulative,
			Count:          count,
			OrderStart:     runOrderBase + cumulative,
			CheckpointFrom: skip + cumulative,
		}
		cumulative += count
	}
	return chunks
}
