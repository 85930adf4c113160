package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/pamdocs/docpipe/constants"
	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/pipeline"
	"github.com/pamdocs/docpipe/internal/store"
	"github.com/pamdocs/docpipe/internal/store/model"
)

// envelope is the uniform {data, error} response body.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// submitResponse mirrors the intake outcome: Success is false when the engine
// refused the document.
type submitResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SubmitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.renderError(w, r, fmt.Errorf("decode body: %w", common.ErrInvalidInput))
		return
	}

	rec, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	resp := submitResponse{
		Success: rec.CurrentStep == string(constants.StepPending),
		URL:     rec.URL,
		JobID:   rec.ExternalJobID,
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := store.ListQuery{
		PartitionKey: s.partitionKey,
		Token:        r.URL.Query().Get("token"),
		Descending:   r.URL.Query().Get("order") == "desc",
	}
	if v := r.URL.Query().Get("status"); v != "" {
		step := constants.Step(v)
		if !constants.Valid(step) {
			s.renderError(w, r, fmt.Errorf("unknown status %q: %w", v, common.ErrInvalidInput))
			return
		}
		q.Step = step
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.renderError(w, r, fmt.Errorf("limit must be a non-negative integer: %w", common.ErrInvalidInput))
			return
		}
		q.Limit = n
	}

	page, err := s.store.List(r.Context(), q)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, envelope{Data: page})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context(), s.partitionKey)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, envelope{Data: map[string]int64{"count": n}})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetByExternalJobID(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, envelope{Data: rec})
}

func (s *Server) handleReparse(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Reparse(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, envelope{Data: rec})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	data, err := s.export.ExportJobXLSX(r.Context(), jobID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("http.error", "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, envelope{Data: (*model.JobRecord)(nil), Error: err.Error()})
}
