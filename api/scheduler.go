/*
scheduler.go - Issuance reconciliation scheduler

PURPOSE:
  Finds requests stuck in APPROVED (issuance failed partway) and re-runs
  issuance on them. Because ledger writes are idempotent per
  (request, reward), a re-run only writes the missing entries and then
  completes the request.

DESIGN:
  - robfig/cron drives the schedule (default "@every 1m")
  - Overlapping runs are skipped, never stacked
  - Requests processed less than Grace ago are left alone: their first
    issuance attempt may still be in flight

CONFIGURATION:
  - Spec:    cron spec or descriptor (default: @every 1m)
  - Grace:   minimum age of an APPROVED request before retry (default: 1m)
  - Enabled: whether the scheduler runs (default: true)

USAGE:
  scheduler := NewIssuanceScheduler(eng.Requests, logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: IssueRequest endpoint (manual retry)
  - engine/request.go: Issue, ListStalled
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/reward-engine/engine"
)

const (
	DefaultSchedulerSpec  = "@every 1m"
	DefaultSchedulerGrace = time.Minute
)

// IssuanceRetrier is the slice of the request service the scheduler needs.
type IssuanceRetrier interface {
	ListStalled(ctx context.Context, olderThan time.Duration) ([]engine.RewardRequest, error)
	Issue(ctx context.Context, rawRequestID string) (*engine.RewardRequest, error)
}

// ReconcileResult summarises one scheduler pass.
type ReconcileResult struct {
	Checked   int
	Completed int
	Failed    int
}

// IssuanceScheduler retries stalled issuances on a cron schedule.
type IssuanceScheduler struct {
	Requests IssuanceRetrier
	Logger   logrus.FieldLogger
	Spec     string
	Grace    time.Duration
	Enabled  bool

	mu   sync.Mutex
	cron *cron.Cron
}

// NewIssuanceScheduler creates a scheduler with default settings.
func NewIssuanceScheduler(requests IssuanceRetrier, logger logrus.FieldLogger) *IssuanceScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IssuanceScheduler{
		Requests: requests,
		Logger:   logger.WithField("component", "scheduler"),
		Spec:     DefaultSchedulerSpec,
		Grace:    DefaultSchedulerGrace,
		Enabled:  true,
	}
}

// Start registers the job and starts the cron runner.
func (s *IssuanceScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron = c

	s.Logger.WithFields(logrus.Fields{"spec": s.Spec, "grace": s.Grace}).Info("scheduler started")
	return nil
}

// Stop stops the runner and waits for a running pass to finish.
func (s *IssuanceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Logger.Info("scheduler stopped")
}

// RunOnce performs one reconciliation pass.
func (s *IssuanceScheduler) RunOnce(ctx context.Context) ReconcileResult {
	var result ReconcileResult

	stalled, err := s.Requests.ListStalled(ctx, s.Grace)
	if err != nil {
		s.Logger.WithError(err).Error("failed to list stalled requests")
		return result
	}

	for _, req := range stalled {
		result.Checked++
		if _, err := s.Requests.Issue(ctx, req.ID.String()); err != nil {
			result.Failed++
			s.Logger.WithError(err).WithField("request_id", req.ID).Warn("issuance retry failed")
			continue
		}
		result.Completed++
	}

	if result.Checked > 0 {
		s.Logger.WithFields(logrus.Fields{
			"checked":   result.Checked,
			"completed": result.Completed,
			"failed":    result.Failed,
		}).Info("reconciliation pass finished")
	}
	return result
}
