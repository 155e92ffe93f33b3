package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/checkin/internal/core"
)

// Integration tests run against TEST_DATABASE_URL and are skipped without it.
func testPool(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool, dsn
}

func newTarget() (string, string) {
	return "checklist-" + uuid.NewString(), "inspection-" + uuid.NewString()
}

func TestPostgres_ClaimIsExclusive(t *testing.T) {
	pool, _ := testPool(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	checklist, inspection := newTarget()
	f, err := pg.CreateFile(ctx, core.FileUpload{FilePath: "/tmp/x.csv", ChecklistID: checklist, InspectionID: inspection})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := pg.TransitionFile(ctx, f.ID,
				[]core.Status{core.StatusPending, core.StatusFailed}, core.StatusProcessing, "")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestPostgres_CommitBatch(t *testing.T) {
	pool, dsn := testPool(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	checklist, inspection := newTarget()
	f, err := pg.CreateFile(ctx, core.FileUpload{FilePath: "/tmp/y.csv", ChecklistID: checklist, InspectionID: inspection, TotalRows: 3})
	require.NoError(t, err)
	require.NoError(t, pg.SaveCheckpoints(ctx, f.ID, []core.Checkpoint{{FileID: f.ID, From: 0, Count: 3}}))

	connector, err := NewPostgresConnector(dsn)
	require.NoError(t, err)
	sink, err := connector.Connect(ctx)
	require.NoError(t, err)
	defer sink.Close(ctx)

	records := make([]core.OutputRecord, 3)
	for i := range records {
		records[i] = core.OutputRecord{
			FileID: f.ID, ChecklistID: checklist, InspectionID: inspection, Order: int64(i),
			Answers: []core.Answer{{FieldID: "q1", Value: "x", Score: 1}},
		}
	}

	require.NoError(t, sink.CommitBatch(ctx, core.Batch{FileID: f.ID, Records: records[:2]}))
	require.NoError(t, sink.CommitBatch(ctx, core.Batch{FileID: f.ID, Records: records[2:]}))

	got, err := pg.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ProcessedRows)

	n, err := pg.RecordCount(ctx, f.Target())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	cps, err := pg.Checkpoints(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, int64(3), cps[0].Committed)

	// a batch against a missing checkpoint rolls back entirely
	err = sink.CommitBatch(ctx, core.Batch{FileID: f.ID, CheckpointFrom: 99, Records: records[:1]})
	require.ErrorIs(t, err, core.ErrPersistence)
	got, err = pg.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ProcessedRows)

	next, err := pg.CreateFile(ctx, core.FileUpload{FilePath: "/tmp/z.csv", ChecklistID: checklist, InspectionID: inspection})
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.OrderStartBase)
}

func TestPostgres_ResolveIsStable(t *testing.T) {
	pool, _ := testPool(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	key := "Number-" + uuid.NewString()
	a, err := pg.Resolve(ctx, key)
	require.NoError(t, err)
	b, err := pg.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPostgres_GetFileUnknown(t *testing.T) {
	pool, _ := testPool(t)
	pg := NewPostgres(pool)

	_, err := pg.GetFile(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = pg.GetFile(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, core.ErrNotFound)
}
