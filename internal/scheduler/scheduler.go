// Package scheduler drives the engine's periodic maintenance: the
// expiration sweep, the stale pending purge, and retention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/roach88/msgweave/internal/engine"
)

// DefaultMinInterval separates two runs that were due immediately.
const DefaultMinInterval = time.Second

// Report summarizes one maintenance run.
type Report struct {
	At       time.Time
	Expired  int
	Purged   engine.PurgeResult
	Retained int
	Took     time.Duration
}

// Scheduler runs maintenance on a cron schedule and whenever an
// expiration falls due between two ticks.
type Scheduler struct {
	eng         *engine.Engine
	cron        string
	clock       engine.WallClock
	logger      *slog.Logger
	minInterval time.Duration
	onRun       func(Report)

	mu      sync.Mutex
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWallClock sets the time source for deadlines and cutoffs.
func WithWallClock(c engine.WallClock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMinInterval sets the pause after a run that was already due.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.minInterval = d }
}

// OnRun registers a callback invoked after every completed run.
func OnRun(fn func(Report)) Option {
	return func(s *Scheduler) { s.onRun = fn }
}

// New creates a scheduler for eng. cron must be a valid cron expression.
func New(eng *engine.Engine, cron string, opts ...Option) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid cron expression: %q", cron)
	}
	s := &Scheduler{
		eng:         eng,
		cron:        cron,
		clock:       engine.SystemClock{},
		logger:      slog.Default(),
		minInterval: DefaultMinInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunOnce performs one maintenance pass at the current wall time.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := s.clock.Now()
	start := time.Now()
	r := Report{At: now}

	var err error
	if r.Expired, err = s.eng.SweepExpired(ctx, now); err != nil {
		return r, fmt.Errorf("sweep: %w", err)
	}
	if r.Purged, err = s.eng.PurgeStalePending(ctx, now); err != nil {
		return r, fmt.Errorf("purge: %w", err)
	}

	discussions, err := s.eng.Discussions(ctx)
	if err != nil {
		return r, fmt.Errorf("list discussions: %w", err)
	}
	for _, d := range discussions {
		n, err := s.eng.ApplyRetention(ctx, d.ID, now)
		if err != nil {
			return r, fmt.Errorf("retention for discussion %d: %w", d.ID, err)
		}
		r.Retained += n
	}

	r.Took = time.Since(start)
	return r, nil
}

// runJob runs one pass unless another is still in progress.
func (s *Scheduler) runJob(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("maintenance skipped, previous run still active")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	r, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("maintenance run failed", "error", err)
		return true
	}
	s.logger.Info("maintenance run",
		"expired", r.Expired,
		"purged_replies", r.Purged.Replies,
		"purged_mutations", r.Purged.Mutations,
		"retained", r.Retained,
		"took", r.Took)
	if s.onRun != nil {
		s.onRun(r)
	}
	return true
}

// nextWake returns the earlier of the next cron tick and the next
// expiration deadline.
func (s *Scheduler) nextWake(ctx context.Context, now time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.cron, now, false)
	if err != nil {
		return time.Time{}, err
	}
	deadline, ok, err := s.eng.NextExpiration(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if ok && deadline.Before(next) {
		next = deadline
	}
	return next, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "cron", s.cron)
	defer s.logger.Info("scheduler stopped")

	for {
		now := s.clock.Now()
		next, err := s.nextWake(ctx, now)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("next tick failed", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		wait := next.Sub(now)
		if wait <= 0 {
			s.runJob(ctx)
			select {
			case <-time.After(s.minInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case <-time.After(wait):
			s.runJob(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
