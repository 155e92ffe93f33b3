package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/ingest"
	"github.com/JonMunkholm/checkin/internal/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// maxRequestBody caps JSON request bodies.
	maxRequestBody = 1 << 20
)

type healthResponse struct {
	Status string               `json:"status"`
	Time   time.Time            `json:"time"`
	Runs   ingest.LimiterStatus `json:"runs"`
}

// handleHealth reports liveness and the run limiter state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
		Runs:   s.limiter.Status(),
	})
}

// handleListFiles lists file records, newest first, optionally by status.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	status := core.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.respondError(w, r, fmt.Errorf("%w: unknown status %q", core.ErrInvalidInput, status))
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", core.ErrInvalidInput))
			return
		}
		limit = min(n, maxListLimit)
	}

	files, err := s.files.ListFiles(r.Context(), status, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if files == nil {
		files = []core.FileUpload{}
	}
	s.writeJSON(w, http.StatusOK, files)
}

type registerRequest struct {
	FilePath     string `json:"filePath"`
	FileName     string `json:"fileName"`
	ChecklistID  string `json:"checklistId"`
	InspectionID string `json:"inspectionId"`
	UserID       string `json:"userId"`
}

// handleRegister creates a Pending record for a file already on disk.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrInvalidInput, err))
		return
	}

	rec, err := ingest.Register(r.Context(), s.files, s.runner.Detector(), core.FileUpload{
		FilePath:     req.FilePath,
		FileName:     req.FileName,
		ChecklistID:  req.ChecklistID,
		InspectionID: req.InspectionID,
		UserID:       req.UserID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.Enrich(r.Context(), s.logger).Info("file registered",
		"file_id", rec.ID,
		"file_name", rec.FileName,
		"total_rows", rec.TotalRows,
		"order_start_base", rec.OrderStartBase,
	)
	s.writeJSON(w, http.StatusCreated, rec)
}

// handleGetFile returns one file record, including its progress.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.files.GetFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type ingestResponse struct {
	FileID string         `json:"fileId"`
	Status string         `json:"status"`
	Result *ingest.Result `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// handleIngest starts a run. By default the run continues in the background
// and the response is 202; with ?wait=true the response carries the result.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.files.GetFile(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rec.Status != core.StatusPending && rec.Status != core.StatusFailed {
		s.respondError(w, r, fmt.Errorf("file %s is %s: %w", id, rec.Status, core.ErrNotClaimable))
		return
	}

	if err := s.limiter.Acquire(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		ctx := context.WithoutCancel(r.Context())
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			defer s.limiter.Release(id)
			// Run logs its own outcome and records failures on the file.
			_, _ = s.runner.Run(ctx, id)
		}()
		s.writeJSON(w, http.StatusAccepted, ingestResponse{FileID: id, Status: "started"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	res, err := s.runner.Run(ctx, id)
	s.limiter.Release(id)

	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, ingestResponse{FileID: id, Status: string(core.StatusCompleted), Result: &res})
	case res.Completed:
		// The rows are in; only the completion hook failed.
		msg := core.MapError(err)
		s.writeJSON(w, http.StatusOK, ingestResponse{
			FileID: id,
			Status: string(core.StatusCompleted),
			Result: &res,
			Error:  &ErrorResponse{Error: err.Error(), Message: msg.Message, Action: msg.Action, Code: msg.Code},
		})
	default:
		s.respondError(w, r, err)
	}
}

// handleRetry moves a Failed file back to Pending.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runner.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}
