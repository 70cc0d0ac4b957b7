// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrDisabled is returned by Start when no refresh schedule is configured.
var ErrDisabled = errors.New("scheduler disabled")

const refreshTimeout = 5 * time.Minute

// PatternRefresher reloads the in-memory global pattern catalogue.
type PatternRefresher interface {
	RefreshPatterns(ctx context.Context) error
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	refresher PatternRefresher
	spec      string
	runs      atomic.Int64
	failures  atomic.Int64
	logger    *slog.Logger
}

// NewScheduler creates a new job scheduler. spec is a standard 5-field cron
// expression; "" or "off" disables the job.
func NewScheduler(refresher PatternRefresher, spec string, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:      c,
		refresher: refresher,
		spec:      strings.TrimSpace(spec),
		logger:    logger,
	}
}

// Start registers the refresh job and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.spec == "" || strings.EqualFold(s.spec, "off") {
		return ErrDisabled
	}
	if _, err := s.cron.AddFunc(s.spec, s.refreshPatterns); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("refreshSpec", s.spec),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a refresh synchronously.
func (s *Scheduler) RunNow() {
	s.refreshPatterns()
}

// Stats returns how many refreshes ran and how many of them failed.
func (s *Scheduler) Stats() (runs, failures int64) {
	return s.runs.Load(), s.failures.Load()
}

func (s *Scheduler) refreshPatterns() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	start := time.Now()
	s.runs.Add(1)
	if err := s.refresher.RefreshPatterns(ctx); err != nil {
		s.failures.Add(1)
		s.logger.Warn("global pattern refresh failed", slog.Any("error", err))
		return
	}
	s.logger.Debug("global pattern refresh completed", slog.Duration("duration", time.Since(start)))
}
