// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/config"
	"github.com/careerscope/jobharvester/internal/scrape"
)

// Orchestrator is the slice of job operations the API exposes.
type Orchestrator interface {
	Start(targetID string, keywords []string, location string, settings scrape.JobSettings) (string, error)
	Pause(jobID string) error
	Resume(jobID string) error
	Cancel(jobID string) error
	Get(jobID string) (scrape.Job, error)
	Listings(jobID string) ([]scrape.Listing, error)
	ListAll() []scrape.Job
	ListActive() []scrape.Job
}

// TargetDirectory lists registered targets for the read-only targets endpoint.
type TargetDirectory interface {
	ListAll() []scrape.Target
}

// Server wires HTTP handlers to the orchestrator and registry.
type Server struct {
	router  chi.Router
	jobs    Orchestrator
	targets TargetDirectory
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs Orchestrator, targets TargetDirectory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    jobs,
		targets: targets,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/targets", s.listTargets)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.startJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/listings", s.getJobListings)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type startJobRequest struct {
	TargetID string              `json:"target_id"`
	Keywords []string            `json:"keywords"`
	Location string              `json:"location"`
	Settings *jobSettingsRequest `json:"settings"`
}

type jobSettingsRequest struct {
	MaxListings   *int  `json:"max_listings"`
	RespectPolicy *bool `json:"respect_policy"`
	UseProxy      *bool `json:"use_proxy"`
	RetryAttempts *int  `json:"retry_attempts"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id required", s.logger)
		return
	}

	settings := s.toSettings(req.Settings)
	jobID, err := s.jobs.Start(req.TargetID, req.Keywords, req.Location, settings)
	if err != nil {
		if errors.Is(err, scrape.ErrTargetUnavailable) {
			writeError(w, http.StatusNotFound, err.Error(), s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID}, s.logger)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []scrape.Job
	if r.URL.Query().Get("active") == "true" {
		jobs = s.jobs.ListActive()
	} else {
		jobs = s.jobs.ListAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs}, s.logger)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job}, s.logger)
}

func (s *Server) getJobListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.jobs.Listings(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings}, s.logger)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "job_id"), scrape.JobStatusPaused, s.jobs.Pause)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "job_id"), scrape.JobStatusRunning, s.jobs.Resume)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "job_id"), scrape.JobStatusFailed, s.jobs.Cancel)
}

func (s *Server) transition(w http.ResponseWriter, jobID string, to scrape.JobStatus, op func(string) error) {
	if err := op(jobID); err != nil {
		switch {
		case errors.Is(err, scrape.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", s.logger)
		case errors.Is(err, scrape.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error(), s.logger)
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(to)}, s.logger)
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"targets": s.targets.ListAll()}, s.logger)
}

func (s *Server) toSettings(req *jobSettingsRequest) scrape.JobSettings {
	settings := scrape.JobSettings{
		RespectPolicy: s.cfg.Scraper.RespectRobots,
		RetryAttempts: s.cfg.Scraper.RetryAttempts,
	}
	if req == nil {
		return settings
	}
	if req.MaxListings != nil {
		settings.MaxListings = *req.MaxListings
	}
	if req.RespectPolicy != nil {
		settings.RespectPolicy = *req.RespectPolicy
	}
	if req.UseProxy != nil {
		settings.UseProxy = *req.UseProxy
	}
	if req.RetryAttempts != nil {
		settings.RetryAttempts = *req.RetryAttempts
	}
	return settings
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
