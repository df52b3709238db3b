// Package retryqueue schedules redrives of location payloads that failed
// persistence, backed by CacheLayer with an explicit
// secondary index (the cache facade deliberately has no KEYS/SCAN).
package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	baseDelay   = 1 * time.Second
	maxDelay    = 10 * time.Second
	maxAttempts = 3

	indexKey     = "retry:location:keys"
	deadIndexFmt = "dead:location:%s:keys"

	// permanentTTL is used for entries that must survive until explicitly
	// deleted; the local map treats a zero TTL as already-expired, so
	// dead-letter records and index lists use a long fixed TTL instead.
	permanentTTL = 30 * 24 * time.Hour
)

// Store is the subset of CacheLayer's facade RetryQueue needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// DLQPublisher mirrors a dead-lettered payload onto an external topic for
// operator visibility beyond the cache.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, key string, payload []byte) error
}

// Queue implements the RetryQueue component.
type Queue struct {
	store  Store
	dlq    DLQPublisher
	logger *logrus.Logger
}

// New creates a Queue. dlq may be nil, disabling the Kafka DLQ mirror.
func New(store Store, dlq DLQPublisher, logger *logrus.Logger) *Queue {
	return &Queue{store: store, dlq: dlq, logger: logger}
}

func countKey(userID string) string   { return fmt.Sprintf("retry:location:%s:count", userID) }
func payloadKey(userID string) string { return fmt.Sprintf("retry:location:%s", userID) }

// Enqueue schedules a retry for userID's payload after a prior failure. On
// the attempt following maxAttempts, the payload moves to the dead-letter
// partition instead of being retried again.
func (q *Queue) Enqueue(ctx context.Context, userID string, payload []byte, cause error) error {
	attempt, err := q.incrementAttempt(ctx, userID)
	if err != nil {
		return err
	}

	if attempt > maxAttempts {
		return q.deadLetter(ctx, userID, payload, cause)
	}

	delay := backoffFor(attempt)
	if err := q.store.Set(ctx, payloadKey(userID), string(payload), delay); err != nil {
		return err
	}
	return q.addToIndex(ctx, indexKey, payloadKey(userID))
}

func (q *Queue) incrementAttempt(ctx context.Context, userID string) (int, error) {
	key := countKey(userID)
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	attempt := 1
	if ok {
		var n int
		if _, scanErr := fmt.Sscanf(raw, "%d", &n); scanErr == nil {
			attempt = n + 1
		}
	}
	if err := q.store.Set(ctx, key, fmt.Sprintf("%d", attempt), maxDelay*2); err != nil {
		return 0, err
	}
	return attempt, nil
}

func (q *Queue) deadLetter(ctx context.Context, userID string, payload []byte, cause error) error {
	key := fmt.Sprintf("dead:location:%s:%d", userID, time.Now().UnixNano())
	if err := q.store.Set(ctx, key, string(payload), permanentTTL); err != nil {
		return err
	}
	if err := q.addToIndex(ctx, fmt.Sprintf(deadIndexFmt, userID), key); err != nil {
		return err
	}
	_ = q.store.Del(ctx, countKey(userID))

	if q.dlq != nil {
		causeMsg := ""
		if cause != nil {
			causeMsg = cause.Error()
		}
		envelope, _ := json.Marshal(map[string]string{"user_id": userID, "error": causeMsg, "payload": string(payload)})
		if err := q.dlq.PublishDLQ(ctx, userID, envelope); err != nil {
			q.logger.WithError(err).Warn("failed to mirror dead-letter payload to kafka")
		}
	}
	return nil
}

// Drain is called by the Scheduler once a minute: it hands each live
// payload on the retry index back to process for reprocessing, then
// removes it; missing payloads (TTL already expired) are pruned from the
// index without being reprocessed.
func (q *Queue) Drain(ctx context.Context, process func(ctx context.Context, userID string, payload []byte) error) {
	keys, err := q.readIndex(ctx, indexKey)
	if err != nil {
		q.logger.WithError(err).Error("failed to read retry index")
		return
	}

	remaining := make([]string, 0, len(keys))
	for _, key := range keys {
		payload, ok, err := q.store.Get(ctx, key)
		if err != nil {
			q.logger.WithError(err).WithField("key", key).Error("failed to read retry payload")
			remaining = append(remaining, key)
			continue
		}
		if !ok {
			continue // expired; prune from index
		}

		userID := userIDFromPayloadKey(key)
		if err := process(ctx, userID, []byte(payload)); err != nil {
			q.logger.WithError(err).WithField("user_id", userID).Warn("retry reprocessing failed")
		}
		_ = q.store.Del(ctx, key)
	}

	if err := q.writeIndex(ctx, indexKey, remaining); err != nil {
		q.logger.WithError(err).Error("failed to rewrite retry index")
	}
}

// FailedForUser returns the raw payloads on userID's dead-letter partition,
// for a client asking what it still owes a retry.
func (q *Queue) FailedForUser(ctx context.Context, userID string) ([]string, error) {
	keys, err := q.readIndex(ctx, fmt.Sprintf(deadIndexFmt, userID))
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		payload, ok, err := q.store.Get(ctx, key)
		if err != nil {
			q.logger.WithError(err).WithField("key", key).Warn("failed to read dead-letter payload")
			continue
		}
		if !ok {
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

func backoffFor(attempt int) time.Duration {
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func (q *Queue) addToIndex(ctx context.Context, idxKey, entry string) error {
	keys, err := q.readIndex(ctx, idxKey)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == entry {
			return nil
		}
	}
	keys = append(keys, entry)
	return q.writeIndex(ctx, idxKey, keys)
}

func (q *Queue) readIndex(ctx context.Context, idxKey string) ([]string, error) {
	raw, ok, err := q.store.Get(ctx, idxKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (q *Queue) writeIndex(ctx context.Context, idxKey string, keys []string) error {
	b, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, idxKey, string(b), permanentTTL)
}

func userIDFromPayloadKey(key string) string {
	const prefix = "retry:location:"
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return ""
}
