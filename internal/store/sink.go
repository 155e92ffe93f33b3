package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/checkin/internal/core"
)

var stageColumns = []string{"inspection_id", "checklist_id", "order_no", "file_id", "user_id", "answers"}

const (
	createStage = `
		CREATE TEMP TABLE IF NOT EXISTS output_records_stage (
			inspection_id text,
			checklist_id  text,
			order_no      bigint,
			file_id       uuid,
			user_id       text,
			answers       jsonb
		) ON COMMIT DELETE ROWS`

	upsertFromStage = `
		INSERT INTO output_records (inspection_id, checklist_id, order_no, file_id, user_id, answers)
		SELECT inspection_id, checklist_id, order_no, file_id, user_id, answers
		FROM output_records_stage
		ON CONFLICT (inspection_id, checklist_id, order_no) DO UPDATE
		SET file_id = EXCLUDED.file_id,
			user_id = EXCLUDED.user_id,
			answers = EXCLUDED.answers,
			updated_at = now()`
)

// PostgresConnector opens one dedicated connection per worker from an
// explicit connection config.
type PostgresConnector struct {
	config *pgx.ConnConfig
}

// NewPostgresConnector parses dsn once; every Connect uses a copy.
func NewPostgresConnector(dsn string) (*PostgresConnector, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	return &PostgresConnector{config: cfg}, nil
}

// Connect opens a new connection.
func (c *PostgresConnector) Connect(ctx context.Context) (*PostgresSink, error) {
	conn, err := pgx.ConnectConfig(ctx, c.config.Copy())
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", core.ErrPersistence, err)
	}
	return &PostgresSink{conn: conn}, nil
}

// PostgresSink writes batches over a single connection. It is not safe for
// concurrent use.
type PostgresSink struct {
	conn   *pgx.Conn
	staged bool
}

// CommitBatch copies the records into a session staging table, upserts them,
// and advances the file counter and chunk checkpoint, all in one
// transaction. Either everything lands or nothing does.
func (s *PostgresSink) CommitBatch(ctx context.Context, b core.Batch) error {
	fileID, err := uuid.Parse(b.FileID)
	if err != nil {
		return fmt.Errorf("%w: file id %q", core.ErrPersistence, b.FileID)
	}

	rows := make([][]any, len(b.Records))
	for i, rec := range b.Records {
		answers, err := json.Marshal(rec.Answers)
		if err != nil {
			return fmt.Errorf("%w: encode answers of order %d: %v", core.ErrPersistence, rec.Order, err)
		}
		rows[i] = []any{rec.InspectionID, rec.ChecklistID, rec.Order, fileID, rec.UserID, answers}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if !s.staged {
		if _, err := tx.Exec(ctx, createStage); err != nil {
			return fmt.Errorf("%w: create staging table: %v", core.ErrPersistence, err)
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"output_records_stage"}, stageColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("%w: copy records: %v", core.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, upsertFromStage); err != nil {
		return fmt.Errorf("%w: upsert records: %v", core.ErrPersistence, err)
	}

	n := int64(len(b.Records))
	tag, err := tx.Exec(ctx, `
		UPDATE file_uploads SET processed_rows = processed_rows + $2, updated_at = now()
		WHERE id = $1`, fileID, n)
	if err != nil {
		return fmt.Errorf("%w: advance processed rows: %v", core.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: file %s missing", core.ErrPersistence, b.FileID)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE ingest_checkpoints SET committed = committed + $3
		WHERE file_id = $1 AND chunk_from = $2`, fileID, b.CheckpointFrom, n)
	if err != nil {
		return fmt.Errorf("%w: advance checkpoint: %v", core.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no checkpoint at row %d for file %s", core.ErrPersistence, b.CheckpointFrom, b.FileID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrPersistence, err)
	}
	s.staged = true
	return nil
}

// Close closes the connection.
func (s *PostgresSink) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
