// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/metrics"
	"github.com/normanking/notionqa/internal/orchestrator"
)

const jobTimeout = time.Minute

// StatusProber reports execution backend connectivity.
type StatusProber interface {
	Status(ctx context.Context) orchestrator.Status
}

// Pruner deletes persisted history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds cron specs. An empty spec disables its job.
type Config struct {
	StatusProbe      string
	HistoryRetention string
	// Retention is how long persisted turns are kept.
	Retention time.Duration
}

// Scheduler manages the maintenance cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	prober    StatusProber
	pruner    Pruner
	retention time.Duration
	now       func() time.Time
	log       *logging.Logger

	mu        sync.Mutex
	connected *bool
}

// New creates a scheduler. A nil prober or pruner disables the matching job.
func New(prober StatusProber, pruner Pruner, cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		prober:    prober,
		pruner:    pruner,
		retention: cfg.Retention,
		now:       time.Now,
		log:       logging.Global().WithComponent("scheduler"),
	}

	if cfg.StatusProbe != "" && prober != nil {
		if _, err := s.cron.AddFunc(cfg.StatusProbe, func() { s.ProbeStatus(context.Background()) }); err != nil {
			return nil, fmt.Errorf("status_probe schedule %q: %w", cfg.StatusProbe, err)
		}
	}
	if cfg.HistoryRetention != "" && pruner != nil && cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(cfg.HistoryRetention, func() { s.PruneHistory(context.Background()) }); err != nil {
			return nil, fmt.Errorf("history_retention schedule %q: %w", cfg.HistoryRetention, err)
		}
	}
	return s, nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Run starts the scheduler, probes once and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.prober != nil {
		s.ProbeStatus(ctx)
	}
	s.Start()
	s.log.Info("scheduler started with %d job(s)", s.Jobs())
	<-ctx.Done()
	s.Stop()
	s.log.Info("scheduler stopped")
	return nil
}

// ProbeStatus records backend connectivity and logs changes.
func (s *Scheduler) ProbeStatus(ctx context.Context) orchestrator.Status {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	st := s.prober.Status(ctx)
	if st.Connected {
		metrics.RemoteConnected.Set(1)
	} else {
		metrics.RemoteConnected.Set(0)
	}
	metrics.RemoteUnits.Set(float64(len(st.Units)))

	s.mu.Lock()
	changed := s.connected == nil || *s.connected != st.Connected
	connected := st.Connected
	s.connected = &connected
	s.mu.Unlock()

	if changed {
		if st.Connected {
			s.log.Info("%s backend connected, %d unit(s) available", st.Backend, len(st.Units))
		} else {
			s.log.Warn("%s backend unavailable: %s", st.Backend, st.Error)
		}
	}
	return st
}

// PruneHistory deletes persisted turns older than the retention window.
func (s *Scheduler) PruneHistory(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.log.Error("history prune failed: %v", err)
		return 0, err
	}
	if n > 0 {
		s.log.Info("pruned %d turn(s) older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
