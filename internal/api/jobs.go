package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/bizregistry-scraper/internal/coordinator"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type submitJobRequest struct {
	JobKind    scraper.JobKind        `json:"jobKind"`
	JobType    scraper.JobKind        `json:"job_type"`
	Parameters *scraper.JobParameters `json:"parameters"`
	UserID     string                 `json:"userId"`
}

type submitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "submit job", err)
		return
	}
	kind := req.JobKind
	if kind == "" {
		kind = req.JobType
	}
	job, err := s.jobs.Submit(r.Context(), coordinator.SubmitRequest{
		Kind:       kind,
		Parameters: req.Parameters,
		UserID:     req.UserID,
	})
	if err != nil {
		s.fail(w, r, "submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: job.ID, Status: "created"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, "list jobs", err)
		return
	}
	filter := scraper.JobFilter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := scraper.JobStatus(strings.TrimSpace(part))
			if !status.Valid() {
				s.fail(w, r, "list jobs", scraper.Validationf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": limit, "offset": offset})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, "list companies", err)
		return
	}
	jobID := chi.URLParam(r, "job_id")
	companies, err := s.jobs.Companies(r.Context(), jobID, limit, offset)
	if err != nil {
		s.fail(w, r, "list companies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "companies": companies})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.adminTransition(w, r, "pause job", s.jobs.Pause)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.adminTransition(w, r, "resume job", s.jobs.Resume)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.adminTransition(w, r, "cancel job", s.jobs.Cancel)
}

func (s *Server) adminTransition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, jobID string) (scraper.Job, error),
) {
	jobID := chi.URLParam(r, "job_id")
	job, err := fn(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, scraper.Validationf("limit must be a positive integer")
		}
		limit = min(v, maxPageSize)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, scraper.Validationf("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}
