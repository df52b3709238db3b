package cachelayer

import (
	"context"
	"io"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/cache"
)

func unreachableClient() goredis.UniversalClient {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
	})
}

func newTestLayer() *Layer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := &Layer{
		remote: unreachableClient(),
		local:  cache.NewLocalMap(),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	return l
}

func TestSetThenGetFallsBackToLocalMapWhenRemoteDown(t *testing.T) {
	l := newTestLayer()
	ctx := context.Background()

	if err := l.Set(ctx, "lastLocation:99", `{"lat":1}`, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, ok, err := l.Get(ctx, "lastLocation:99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || val != `{"lat":1}` {
		t.Fatalf("expected local map to serve the write, got %q, %v", val, ok)
	}
}

func TestDelRemovesFromLocalMap(t *testing.T) {
	l := newTestLayer()
	ctx := context.Background()

	_ = l.Set(ctx, "key", "value", time.Minute)
	_ = l.Del(ctx, "key")

	if _, ok, _ := l.Get(ctx, "key"); ok {
		t.Fatal("expected key to be gone after Del")
	}
}

func TestEnterFallbackIsIdempotentAndFiresOnce(t *testing.T) {
	fired := 0
	l := newTestLayer()
	l.events = Events{OnFallback: func() { fired++ }}

	l.enterFallback()
	l.enterFallback()

	if fired != 1 {
		t.Fatalf("expected OnFallback to fire once, got %d", fired)
	}
	if l.IsConnected() {
		t.Fatal("expected layer to report not connected while in fallback")
	}
}

func TestBackoffForCapsAtMax(t *testing.T) {
	if got := backoffFor(1); got != baseBackoff {
		t.Fatalf("expected first backoff = base, got %v", got)
	}
	if got := backoffFor(10); got != maxBackoff {
		t.Fatalf("expected backoff to cap at max, got %v", got)
	}
}
