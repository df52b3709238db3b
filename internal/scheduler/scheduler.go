// Package scheduler runs the background jobs that drive shift auto-end,
// timer reminders, retry-queue redrives, and error-log retention. Each job
// owns one ticker goroutine guarded by its own re-entrancy flag, so a slow
// run is skipped rather than overlapped by the next tick.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/models"
)

// ShiftSweeper is the subset of ShiftEngine the scheduler drives.
type ShiftSweeper interface {
	AutoEndSweep(ctx context.Context, now time.Time)
	SendTimerReminders(ctx context.Context, reminderMinutes int, now time.Time)
}

// RetryDrainer is the subset of RetryQueue the scheduler drives.
type RetryDrainer interface {
	Drain(ctx context.Context, process func(ctx context.Context, userID string, payload []byte) error)
}

// LocationReingester reprocesses one payload pulled back off the retry
// queue.
type LocationReingester interface {
	Reingest(ctx context.Context, userID string, sample models.LocationSample) error
}

// ErrorLogPurger deletes error_logs rows past retention.
type ErrorLogPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes every job's cadence; zero values fall back to production
// defaults so tests can inject short intervals without touching the rest.
type Config struct {
	SweepInterval        time.Duration
	ReminderInterval     time.Duration
	RetryDrainInterval   time.Duration
	ReminderMinutesAhead int
	ErrorLogPurgeHour    int
	ErrorLogPurgeMinute  int
	ErrorLogRetention    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.ReminderInterval == 0 {
		c.ReminderInterval = time.Minute
	}
	if c.RetryDrainInterval == 0 {
		c.RetryDrainInterval = time.Minute
	}
	if c.ReminderMinutesAhead == 0 {
		c.ReminderMinutesAhead = 5
	}
	if c.ErrorLogRetention == 0 {
		c.ErrorLogRetention = 30 * 24 * time.Hour
	}
	return c
}

// Scheduler owns one ticker-driven goroutine per background job.
type Scheduler struct {
	cfg      Config
	sweeper  ShiftSweeper
	retry    RetryDrainer
	reingest LocationReingester
	purger   ErrorLogPurger
	logger   *logrus.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New wires a Scheduler. reingest and purger may be nil, disabling the
// retry-drain and error-log-purge jobs respectively.
func New(cfg Config, sweeper ShiftSweeper, retry RetryDrainer, reingest LocationReingester, purger ErrorLogPurger, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg.withDefaults(), sweeper: sweeper, retry: retry, reingest: reingest, purger: purger,
		logger: logger, stopCh: make(chan struct{}),
	}
}

// Start launches every configured job's goroutine. Call Stop to shut them
// all down.
func (s *Scheduler) Start() {
	if s.sweeper != nil {
		s.startTicking("shift-auto-end-sweep", s.cfg.SweepInterval, s.runSweep)
		s.startTicking("shift-timer-reminders", s.cfg.ReminderInterval, s.runReminders)
	}
	if s.retry != nil && s.reingest != nil {
		s.startTicking("retry-queue-drain", s.cfg.RetryDrainInterval, s.runRetryDrain)
	}
	if s.purger != nil {
		s.startDaily("error-log-purge", s.cfg.ErrorLogPurgeHour, s.cfg.ErrorLogPurgeMinute, s.runErrorLogPurge)
	}
}

// Stop signals every job goroutine to exit and waits for them to drain.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) startTicking(name string, interval time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var running atomic.Bool
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runGuarded(name, &running, interval, run)
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) startDaily(name string, hour, minute int, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var running atomic.Bool
		timer := time.NewTimer(durationUntil(hour, minute))
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				s.runGuarded(name, &running, 10*time.Minute, run)
				timer.Reset(24 * time.Hour)
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) runGuarded(name string, running *atomic.Bool, timeout time.Duration, run func(ctx context.Context)) {
	if !running.CompareAndSwap(false, true) {
		s.logger.WithField("job", name).Warn("skipping tick: previous run still in progress")
		return
	}
	defer running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	run(ctx)
}

func durationUntil(hour, minute int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.sweeper.AutoEndSweep(ctx, time.Now())
}

func (s *Scheduler) runReminders(ctx context.Context) {
	s.sweeper.SendTimerReminders(ctx, s.cfg.ReminderMinutesAhead, time.Now())
}

func (s *Scheduler) runRetryDrain(ctx context.Context) {
	s.retry.Drain(ctx, func(ctx context.Context, userID string, payload []byte) error {
		var sample models.LocationSample
		if err := json.Unmarshal(payload, &sample); err != nil {
			return err
		}
		return s.reingest.Reingest(ctx, userID, sample)
	})
}

func (s *Scheduler) runErrorLogPurge(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ErrorLogRetention)
	n, err := s.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("error log purge failed")
		return
	}
	if n > 0 {
		s.logger.WithField("rows_deleted", n).Info("purged expired error logs")
	}
}
