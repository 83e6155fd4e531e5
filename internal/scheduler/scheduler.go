// Package scheduler launches recurring scrape jobs against every active
// target on a cron cadence.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// JobService is the slice of the orchestrator the scheduler needs.
type JobService interface {
	Start(targetID string, keywords []string, location string, settings scrape.JobSettings) (string, error)
	ListActive() []scrape.Job
}

// TargetLister enumerates targets eligible for a sweep.
type TargetLister interface {
	ListActive() []scrape.Target
}

// Config controls the sweep cadence and the job shape it submits.
type Config struct {
	Spec     string
	Keywords []string
	Location string
	Settings scrape.JobSettings
}

// Scheduler owns the cron runner. One sweep submits at most one job per
// active target; targets with a job already pending or running are skipped.
type Scheduler struct {
	cfg     Config
	jobs    JobService
	targets TargetLister
	logger  *zap.Logger
	cron    *cron.Cron
}

// New registers the sweep with the given cron spec.
func New(cfg Config, jobs JobService, targets TargetLister, logger *zap.Logger) (*Scheduler, error) {
	if jobs == nil || targets == nil {
		return nil, fmt.Errorf("scheduler: job service and target lister are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cfg:     cfg,
		jobs:    jobs,
		targets: targets,
		logger:  logger,
		cron:    cron.New(),
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.Sweep); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron spec %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.String("spec", s.cfg.Spec))
	s.cron.Start()
}

// Stop halts the cron loop and returns a context that is done once any
// in-flight sweep has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Sweep submits one job per active target that has no job in flight.
func (s *Scheduler) Sweep() {
	busy := make(map[string]bool)
	for _, job := range s.jobs.ListActive() {
		busy[job.TargetID] = true
	}

	for _, target := range s.targets.ListActive() {
		if busy[target.ID] {
			s.logger.Debug("target already has a job in flight", zap.String("target_id", target.ID))
			continue
		}
		id, err := s.jobs.Start(target.ID, s.cfg.Keywords, s.cfg.Location, s.cfg.Settings)
		if err != nil {
			s.logger.Warn("sweep job submission failed",
				zap.String("target_id", target.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("sweep job submitted",
			zap.String("target_id", target.ID),
			zap.String("job_id", id))
	}
}
