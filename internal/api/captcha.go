package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

type solveResponse struct {
	Success     bool                  `json:"success"`
	Solution    string                `json:"solution,omitempty"`
	Cost        float64               `json:"cost"`
	SolveTimeMs int64                 `json:"solveTimeMs"`
	Service     scraper.SolverService `json:"solverService,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// solveCaptcha answers 200 for every attempt that reached a provider, failed
// or not, so the caller always sees the charged cost.
func (s *Server) solveCaptcha(w http.ResponseWriter, r *http.Request) {
	var req captcha.SolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "solve captcha", err)
		return
	}
	res, err := s.solver.Solve(r.Context(), req)
	out := solveResponse{
		Success:     res.Success,
		Solution:    res.Solution,
		Cost:        res.Cost,
		SolveTimeMs: res.SolveTimeMs,
		Service:     res.Service,
	}
	if err != nil {
		if errors.Is(err, scraper.ErrValidation) || errors.Is(err, scraper.ErrNoProviderConfigured) {
			s.fail(w, r, "solve captcha", err)
			return
		}
		s.logger.Warn("captcha solve failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("solver_service", string(res.Service)),
			zap.String("error_kind", scraper.ErrorKind(err)),
			zap.Error(err))
		out.Success = false
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}
