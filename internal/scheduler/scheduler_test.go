package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeSweeper struct {
	sweeps    int32
	reminders int32
	block     chan struct{}
}

func (f *fakeSweeper) AutoEndSweep(ctx context.Context, now time.Time) {
	atomic.AddInt32(&f.sweeps, 1)
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeSweeper) SendTimerReminders(ctx context.Context, reminderMinutes int, now time.Time) {
	atomic.AddInt32(&f.reminders, 1)
}

type fakeRetryDrainer struct {
	drains int32
}

func (f *fakeRetryDrainer) Drain(ctx context.Context, process func(ctx context.Context, userID string, payload []byte) error) {
	atomic.AddInt32(&f.drains, 1)
}

type fakePurger struct {
	calls int32
}

func (f *fakePurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSchedulerRunsSweepAndReminderTicks(t *testing.T) {
	sweeper := &fakeSweeper{}
	retry := &fakeRetryDrainer{}
	s := New(Config{SweepInterval: 20 * time.Millisecond, ReminderInterval: 20 * time.Millisecond}, sweeper, retry, nil, nil, newTestLogger())
	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&sweeper.sweeps) < 2 {
		t.Fatalf("expected at least 2 sweep ticks, got %d", sweeper.sweeps)
	}
	if atomic.LoadInt32(&sweeper.reminders) < 2 {
		t.Fatalf("expected at least 2 reminder ticks, got %d", sweeper.reminders)
	}
	if atomic.LoadInt32(&retry.drains) != 0 {
		t.Fatalf("retry drain should not run without a reingester, got %d calls", retry.drains)
	}
}

func TestSchedulerSkipsOverlappingRunsOfTheSameJob(t *testing.T) {
	block := make(chan struct{})
	sweeper := &fakeSweeper{block: block}
	s := New(Config{SweepInterval: 10 * time.Millisecond, ReminderInterval: time.Hour}, sweeper, &fakeRetryDrainer{}, nil, nil, newTestLogger())
	s.Start()

	// Let several ticks fire while the first sweep is still blocked.
	time.Sleep(60 * time.Millisecond)
	inFlight := atomic.LoadInt32(&sweeper.sweeps)
	close(block)
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if inFlight != 1 {
		t.Fatalf("expected exactly 1 sweep to run while the first was still in flight, got %d", inFlight)
	}
}

func TestSchedulerRunsErrorLogPurgeJob(t *testing.T) {
	purger := &fakePurger{}
	s := New(Config{}, nil, nil, nil, purger, newTestLogger())
	var wg sync.WaitGroup
	wg.Add(1)
	// startDaily schedules against the wall clock; exercise runErrorLogPurge
	// directly rather than waiting up to 24h for the ticker.
	go func() {
		defer wg.Done()
		s.runErrorLogPurge(context.Background())
	}()
	wg.Wait()

	if atomic.LoadInt32(&purger.calls) != 1 {
		t.Fatalf("expected exactly 1 purge call, got %d", purger.calls)
	}
}
