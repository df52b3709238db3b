package models

import "time"

// RetryRecord is a cache-only record of a location payload that failed
// persistence, queued for RetryQueue to redrive with backoff.
// Once Attempt exceeds the configured max, the record moves to the
// dead-letter partition instead of being retried again.
type RetryRecord struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Payload []byte    `json:"payload"`
	Error   string    `json:"error"`
	Attempt int       `json:"attempt"`
	Due     time.Time `json:"due"`
}
