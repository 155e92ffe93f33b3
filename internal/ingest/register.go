package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/checkin/internal/chunk"
	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/dialect"
)

// Registrar creates file records.
type Registrar interface {
	CreateFile(ctx context.Context, f core.FileUpload) (core.FileUpload, error)
}

// Register validates f, counts the data rows of its file and creates a
// Pending record for it. Counting up front lets the store reserve the
// file's order range before any other file of the same target registers.
func Register(ctx context.Context, files Registrar, detector dialect.Detector, f core.FileUpload) (core.FileUpload, error) {
	f.FilePath = strings.TrimSpace(f.FilePath)
	f.ChecklistID = strings.TrimSpace(f.ChecklistID)
	f.InspectionID = strings.TrimSpace(f.InspectionID)

	switch {
	case f.FilePath == "":
		return core.FileUpload{}, fmt.Errorf("%w: file path is required", core.ErrInvalidInput)
	case f.ChecklistID == "":
		return core.FileUpload{}, fmt.Errorf("%w: checklist id is required", core.ErrInvalidInput)
	case f.InspectionID == "":
		return core.FileUpload{}, fmt.Errorf("%w: inspection id is required", core.ErrInvalidInput)
	}
	if f.FileName == "" {
		f.FileName = filepath.Base(f.FilePath)
	}

	detected, err := detector.Detect(f.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return core.FileUpload{}, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	if err != nil {
		return core.FileUpload{}, err
	}
	total, err := chunk.CountRows(ctx, f.FilePath, detected.Dialect)
	if err != nil {
		return core.FileUpload{}, err
	}
	f.TotalRows = total

	rec, err := files.CreateFile(ctx, f)
	if err != nil {
		return core.FileUpload{}, fmt.Errorf("%w: register %s: %v", core.ErrPersistence, f.FileName, err)
	}
	return rec, nil
}
