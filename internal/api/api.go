// Package api exposes the planning and execution operations over HTTP.
// Business and guardrail failures travel as structured JSON with a
// stable error_code over success-style transport; only malformed
// requests, missing coordination context, and unknown resources map to
// non-200 statuses.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/jobs"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/planner"
)

// RealExecutionHeader is the out-of-band opt-in for real execution.
// Real mode is never taken from the request body; the caller must send
// this header with the value "yes".
const RealExecutionHeader = "X-Real-Execution"

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// PlanBuilder builds submission plans.
type PlanBuilder interface {
	Build(ctx context.Context, req planner.Request) (*model.SubmissionPlan, error)
}

// Executor accepts execution requests and answers status polls.
type Executor interface {
	Execute(ctx context.Context, req jobs.Request) (*model.ExecutionJob, error)
	JobStatus(jobID string) (*model.ExecutionJob, error)
	ListRunSummaries(platform string, limit int) ([]model.RunSummary, error)
}

// Server wires the HTTP surface to the planner and the job runner.
type Server struct {
	planner PlanBuilder
	exec    Executor
}

func NewServer(planner PlanBuilder, exec Executor) *Server {
	return &Server{planner: planner, exec: exec}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RealExecutionHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/plans", s.handleBuildPlan)
		r.Post("/plans/{planID}/execute", s.handleExecutePlan)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/runs", s.handleListRuns)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBuildPlan(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "request body is not valid JSON")
		return
	}

	plan, err := s.planner.Build(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string                `json:"status"`
		Plan   *model.SubmissionPlan `json:"plan"`
	}{Status: "ok", Plan: plan})
}

func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "request body is not valid JSON")
		return
	}
	req.PlanID = chi.URLParam(r, "planID")
	req.RealRequested = r.Header.Get(RealExecutionHeader) == "yes"

	job, err := s.exec.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string          `json:"status"`
		JobID  string          `json:"job_id"`
		RunID  string          `json:"run_id"`
		State  model.JobStatus `json:"job_status"`
	}{Status: "ok", JobID: job.JobID, RunID: job.RunID, State: job.Status})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.exec.JobStatus(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string              `json:"status"`
		Job    *model.ExecutionJob `json:"job"`
	}{Status: "ok", Job: job})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeInvalid(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.exec.ListRunSummaries(platform, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}

	writeJSON(w, http.StatusOK, struct {
		Status string             `json:"status"`
		Runs   []model.RunSummary `json:"runs"`
	}{Status: "ok", Runs: runs})
}

type errorResponse struct {
	Status  string          `json:"status"`
	Code    model.ErrorCode `json:"error_code"`
	Message string          `json:"message"`
	Hint    string          `json:"hint,omitempty"`
}

func writeInvalid(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Status:  "error",
		Code:    "invalid_request",
		Message: msg,
	})
}

// writeError maps a failure onto the wire. Structured business errors
// keep a 200 transport status so clients always branch on error_code;
// the exceptions are the missing coordination context (a client mistake,
// 400) and unknown resources (404).
func writeError(w http.ResponseWriter, err error) {
	se, ok := model.AsStructured(err)
	if !ok {
		zap.L().Error("api: internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status:  "error",
			Code:    "internal_error",
			Message: "internal error",
		})
		return
	}

	status := http.StatusOK
	switch se.Code {
	case model.CodeMissingCoordinationContext:
		status = http.StatusBadRequest
	case model.CodePlanNotFound, model.CodeJobNotFound:
		status = http.StatusNotFound
	}

	writeJSON(w, status, errorResponse{
		Status:  "error",
		Code:    se.Code,
		Message: se.Message,
		Hint:    se.Hint,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
