package core

import "context"

type contextKey string

const ctxKeyFileID contextKey = "ingest_file_id"

// ContextWithFileID tags ctx with the file being ingested, for logging.
func ContextWithFileID(ctx context.Context, fileID string) context.Context {
	return context.WithValue(ctx, ctxKeyFileID, fileID)
}

// FileIDFromContext returns the file id set by ContextWithFileID.
func FileIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyFileID).(string); ok {
		return v
	}
	return ""
}
