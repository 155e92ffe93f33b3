// Package store persists files, checkpoints, output records and common ids.
//
// Postgres is the production store. Memory mirrors its semantics in process
// for tests. RedisCommonIDs is an alternative common id registry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/checkin/internal/core"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

const fileColumns = `id, file_path, file_name, checklist_id, inspection_id, user_id, status,
	processed_rows, total_rows, order_start_base, error_message, created_at, updated_at`

// Postgres implements the file, checkpoint and common id stores on a pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres store using pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func scanFile(row pgx.Row) (core.FileUpload, error) {
	var (
		f      core.FileUpload
		id     uuid.UUID
		status string
	)
	err := row.Scan(&id, &f.FilePath, &f.FileName, &f.ChecklistID, &f.InspectionID, &f.UserID, &status,
		&f.ProcessedRows, &f.TotalRows, &f.OrderStartBase, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return core.FileUpload{}, err
	}
	f.ID = id.String()
	f.Status = core.Status(status)
	return f, nil
}

func parseID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("file id %q: %w", id, core.ErrNotFound)
	}
	return u, nil
}

// CreateFile registers a Pending file. Its OrderStartBase is placed past
// every order committed or reserved for the same target; the target is
// locked for the duration so concurrent registrations do not overlap.
func (p *Postgres) CreateFile(ctx context.Context, f core.FileUpload) (core.FileUpload, error) {
	id := uuid.New()
	if f.ID != "" {
		var err error
		if id, err = uuid.Parse(f.ID); err != nil {
			return core.FileUpload{}, fmt.Errorf("create file: invalid id %q", f.ID)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
		f.ChecklistID, f.InspectionID); err != nil {
		return core.FileUpload{}, fmt.Errorf("lock target: %w", err)
	}

	var base int64
	err = tx.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(order_no) + 1 FROM output_records
				WHERE checklist_id = $1 AND inspection_id = $2), 0),
			COALESCE((SELECT MAX(order_start_base + GREATEST(total_rows, processed_rows)) FROM file_uploads
				WHERE checklist_id = $1 AND inspection_id = $2), 0))`,
		f.ChecklistID, f.InspectionID).Scan(&base)
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("next order base: %w", err)
	}

	created, err := scanFile(tx.QueryRow(ctx, `
		INSERT INTO file_uploads (id, file_path, file_name, checklist_id, inspection_id, user_id,
			status, total_rows, order_start_base)
		VALUES ($1, $2, $3, $4, $5, $6, 'Pending', $7, $8)
		RETURNING `+fileColumns,
		id, f.FilePath, f.FileName, f.ChecklistID, f.InspectionID, f.UserID, f.TotalRows, base))
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("insert file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.FileUpload{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// GetFile returns the file with id.
func (p *Postgres) GetFile(ctx context.Context, id string) (core.FileUpload, error) {
	uid, err := parseID(id)
	if err != nil {
		return core.FileUpload{}, err
	}
	f, err := scanFile(p.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_uploads WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.FileUpload{}, fmt.Errorf("get file %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

// ListFiles returns files in status, or all files when status is empty,
// newest first.
func (p *Postgres) ListFiles(ctx context.Context, status core.Status, limit int) ([]core.FileUpload, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM file_uploads
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []core.FileUpload
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TransitionFile implements lifecycle.Store with one conditional UPDATE.
func (p *Postgres) TransitionFile(ctx context.Context, id string, from []core.Status, to core.Status, message string) (core.FileUpload, bool, error) {
	uid, err := parseID(id)
	if err != nil {
		return core.FileUpload{}, false, err
	}

	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	f, err := scanFile(p.pool.QueryRow(ctx, `
		UPDATE file_uploads
		SET status = $3, error_message = $4, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+fileColumns,
		uid, sources, string(to), message))
	if err == nil {
		return f, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return core.FileUpload{}, false, fmt.Errorf("transition file %s: %w", id, err)
	}

	current, err := p.GetFile(ctx, id)
	if err != nil {
		return core.FileUpload{}, false, err
	}
	return current, false, nil
}

// SetTotalRows records the data row count of a file.
func (p *Postgres) SetTotalRows(ctx context.Context, id string, total int64) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE file_uploads SET total_rows = $2, updated_at = now() WHERE id = $1`, uid, total)
	if err != nil {
		return fmt.Errorf("set total rows: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set total rows %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Checkpoints implements progress.Ledger.
func (p *Postgres) Checkpoints(ctx context.Context, fileID string) ([]core.Checkpoint, error) {
	uid, err := parseID(fileID)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT chunk_from, row_count, committed FROM ingest_checkpoints
		WHERE file_id = $1 ORDER BY chunk_from`, uid)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Checkpoint, error) {
		cp := core.Checkpoint{FileID: fileID}
		err := row.Scan(&cp.From, &cp.Count, &cp.Committed)
		return cp, err
	})
}

// SaveCheckpoints replaces the checkpoints of a file.
func (p *Postgres) SaveCheckpoints(ctx context.Context, fileID string, cps []core.Checkpoint) error {
	uid, err := parseID(fileID)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM ingest_checkpoints WHERE file_id = $1`, uid)
	for _, cp := range cps {
		batch.Queue(`INSERT INTO ingest_checkpoints (file_id, chunk_from, row_count, committed)
			VALUES ($1, $2, $3, $4)`, uid, cp.From, cp.Count, cp.Committed)
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save checkpoints: %w", err)
		}
		return nil
	})
}

// ClearCheckpoints implements progress.Ledger.
func (p *Postgres) ClearCheckpoints(ctx context.Context, fileID string) error {
	uid, err := parseID(fileID)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM ingest_checkpoints WHERE file_id = $1`, uid); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}

// Resolve implements fields.CommonIDRegistry. The no-op update makes the
// statement return the existing id on conflict.
func (p *Postgres) Resolve(ctx context.Context, key string) (string, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO common_ids (key, id) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
		RETURNING id`, key, uuid.New()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolve common id: %w", err)
	}
	return id.String(), nil
}

// CreateSummary inserts the checklist result of ev's target unless one
// exists, and reports whether it did.
func (p *Postgres) CreateSummary(ctx context.Context, ev core.CompletionEvent) (bool, error) {
	fileID, err := parseID(ev.FileID)
	if err != nil {
		return false, err
	}
	fieldsJSON, err := json.Marshal(ev.Fields)
	if err != nil {
		return false, fmt.Errorf("encode summary fields: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO checklist_results (inspection_id, checklist_id, user_id, file_id, record_count, fields)
		SELECT $1::text, $2::text, $3::text, $4::uuid, count(*), $5::jsonb
		FROM output_records
		WHERE inspection_id = $1::text AND checklist_id = $2::text
		ON CONFLICT (inspection_id, checklist_id) DO NOTHING`,
		ev.InspectionID, ev.ChecklistID, ev.UserID, fileID, string(fieldsJSON))
	if err != nil {
		return false, fmt.Errorf("create checklist result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordCount returns the number of output records of a target.
func (p *Postgres) RecordCount(ctx context.Context, target core.Target) (int64, error) {
	return countRecords(ctx, p.pool, target)
}

func countRecords(ctx context.Context, db DBTX, target core.Target) (int64, error) {
	var n int64
	err := db.QueryRow(ctx,
		`SELECT count(*) FROM output_records WHERE checklist_id = $1 AND inspection_id = $2`,
		target.ChecklistID, target.InspectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
