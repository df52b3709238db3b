// Package cachelayer is a facade over Redis that degrades to a process-local
// map when the remote store is unreachable, instead of failing ingest.
package cachelayer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/cache"
)

const (
	baseBackoff     = 1 * time.Second
	maxBackoff      = 30 * time.Second
	maxReconnects   = 10
	monitorInterval = 5 * time.Second
)

// Events mirrors the original client's connection lifecycle callbacks; any
// may be nil.
type Events struct {
	OnConnect      func()
	OnReady        func()
	OnError        func(error)
	OnClose        func()
	OnReconnecting func(attempt int)
	OnEnd          func()
	OnFallback     func()
}

// Layer is the CacheLayer facade: get/set/del/pipeline against Redis, with
// automatic fallback to a local map after repeated connection failures.
type Layer struct {
	remote goredis.UniversalClient
	local  *cache.LocalMap
	events Events
	logger *logrus.Logger

	fallback int32 // atomic bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wraps remote, starting a background connectivity monitor.
func New(remote goredis.UniversalClient, events Events, logger *logrus.Logger) *Layer {
	l := &Layer{
		remote: remote,
		local:  cache.NewLocalMap(),
		events: events,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	go l.monitor()
	return l
}

// IsConnected reports whether the layer believes the remote store is
// reachable (i.e. not currently in fallback mode).
func (l *Layer) IsConnected() bool {
	return atomic.LoadInt32(&l.fallback) == 0
}

// inFallback satisfies the shape monitoring.CacheHealthCheck expects.
func (l *Layer) inFallback() bool {
	return !l.IsConnected()
}

// InFallback reports whether the layer is currently serving from the local
// map. Exported for health checks and tests.
func (l *Layer) InFallback() bool { return l.inFallback() }

// Ping satisfies monitoring.PingableCache.
func (l *Layer) Ping(ctx context.Context) error {
	return l.remote.Ping(ctx).Err()
}

// Get reads key, preferring the remote store unless in fallback mode.
func (l *Layer) Get(ctx context.Context, key string) (string, bool, error) {
	if l.IsConnected() {
		val, err := l.remote.Get(ctx, key).Result()
		switch {
		case err == nil:
			return val, true, nil
		case err == goredis.Nil:
			return "", false, nil
		default:
			l.reportError(err)
		}
	}
	val, ok := l.local.Get(key)
	return val, ok, nil
}

// Set writes key=value with ttl. It always writes the local map too, so a
// future fallback has warm values; remote writes are best-effort.
func (l *Layer) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	l.local.Set(key, value, ttl)
	if !l.IsConnected() {
		return nil
	}
	if err := l.remote.Set(ctx, key, value, ttl).Err(); err != nil {
		l.reportError(err)
	}
	return nil
}

// Del removes key from both stores.
func (l *Layer) Del(ctx context.Context, key string) error {
	l.local.Del(key)
	if !l.IsConnected() {
		return nil
	}
	if err := l.remote.Del(ctx, key).Err(); err != nil {
		l.reportError(err)
	}
	return nil
}

// Pipeline runs opFn against a Redis pipeline and executes it. Callers
// needing secondary-index-style list-of-keys semantics (RetryQueue) must
// maintain those lists explicitly; this facade deliberately exposes no
// KEYS/SCAN.
func (l *Layer) Pipeline(ctx context.Context, opFn func(pipe goredis.Pipeliner) error) ([]goredis.Cmder, error) {
	pipe := l.remote.Pipeline()
	if err := opFn(pipe); err != nil {
		return nil, err
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil && err != goredis.Nil {
		l.reportError(err)
		return cmds, err
	}
	return cmds, nil
}

// ForceReconnect attempts an immediate PING, leaving fallback mode on
// success.
func (l *Layer) ForceReconnect(ctx context.Context) error {
	if err := l.remote.Ping(ctx).Err(); err != nil {
		l.reportError(err)
		return err
	}
	l.leaveFallback()
	return nil
}

// Cleanup stops the background monitor.
func (l *Layer) Cleanup() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.events.OnEnd != nil {
		l.events.OnEnd()
	}
}

func (l *Layer) reportError(err error) {
	if l.events.OnError != nil {
		l.events.OnError(err)
	}
}

func (l *Layer) enterFallback() {
	if atomic.CompareAndSwapInt32(&l.fallback, 0, 1) {
		l.logger.Warn("cache layer entering fallback mode")
		if l.events.OnFallback != nil {
			l.events.OnFallback()
		}
	}
}

func (l *Layer) leaveFallback() {
	if atomic.CompareAndSwapInt32(&l.fallback, 1, 0) {
		l.logger.Info("cache layer reconnected, leaving fallback mode")
		if l.events.OnConnect != nil {
			l.events.OnConnect()
		}
		if l.events.OnReady != nil {
			l.events.OnReady()
		}
	}
}

// monitor pings on a timer; after maxReconnects consecutive failures with
// exponential backoff (capped at maxBackoff) it enters fallback mode and
// continues pinging at monitorInterval to notice recovery.
func (l *Layer) monitor() {
	attempt := 0
	for {
		delay := monitorInterval
		if attempt > 0 && attempt < maxReconnects {
			delay = backoffFor(attempt)
		}

		select {
		case <-l.stopCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := l.remote.Ping(ctx).Err()
		cancel()

		if err == nil {
			attempt = 0
			l.leaveFallback()
			continue
		}

		attempt++
		if l.events.OnReconnecting != nil {
			l.events.OnReconnecting(attempt)
		}
		if attempt >= maxReconnects {
			l.enterFallback()
			attempt = maxReconnects // keep pinging at monitorInterval cadence
		}
	}
}

func backoffFor(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
