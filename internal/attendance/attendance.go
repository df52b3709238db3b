// Package attendance is the outbound client to the third-party attendance
// bridge (Sparrow): a thin HTTP caller with typed errors and backoff. The
// bridge never throws to callers — failures are returned in the envelope,
// never as a propagated panic or a fatal error.
package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/clients"
)

// ErrorType classifies a failed punch by message substring, per the
// COOLDOWN|ROSTER|SCHEDULE|VALIDATION|NETWORK|API|UNKNOWN taxonomy.
type ErrorType string

const (
	ErrCooldown   ErrorType = "COOLDOWN"
	ErrRoster     ErrorType = "ROSTER"
	ErrSchedule   ErrorType = "SCHEDULE"
	ErrValidation ErrorType = "VALIDATION"
	ErrNetwork    ErrorType = "NETWORK"
	ErrAPI        ErrorType = "API"
	ErrUnknown    ErrorType = "UNKNOWN"
)

// PunchResult is the full result envelope the bridge returns for one
// attempt.
type PunchResult struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	SparrowErrors []string        `json:"sparrowErrors,omitempty"`
	ErrorType     ErrorType       `json:"errorType,omitempty"`
	StatusCode    int             `json:"statusCode"`
	ShouldRetry   bool            `json:"shouldRetry"`
}

// Client is the bare HTTP caller: one endpoint, one punch operation.
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *clients.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient builds a Client against endpoint (SPARROW_ENDPOINT).
func NewClient(endpoint string, logger *logrus.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:   "attendance-bridge",
			Logger: logger,
		}),
		logger: logger,
	}
}

type punchRequest struct {
	EmployeeCodes []string `json:"employeeCodes"`
}

// Punch calls the bridge with up to 3 attempts of exponential backoff for
// network-class errors and 5xx; 4xx is terminal (DefaultShouldRetry already
// encodes exactly that split).
func (c *Client) Punch(ctx context.Context, employeeCodes []string) (*PunchResult, error) {
	body, err := json.Marshal(punchRequest{EmployeeCodes: employeeCodes})
	if err != nil {
		return nil, fmt.Errorf("marshaling punch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building punch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	cfg := clients.RetryConfig{
		MaxRetries:     3,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryFunc:      clients.DefaultShouldRetry,
		CircuitBreaker: c.breaker,
	}
	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, cfg)
	if err != nil {
		return &PunchResult{Success: false, ErrorType: ErrNetwork, ShouldRetry: true}, fmt.Errorf("attendance bridge request: %w", err)
	}
	defer resp.Body.Close()

	var result PunchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding punch response: %w", err)
	}
	result.StatusCode = resp.StatusCode
	if !result.Success && result.ErrorType == "" {
		result.ErrorType = classify(result.SparrowErrors)
	}
	return &result, nil
}

func classify(messages []string) ErrorType {
	joined := strings.ToLower(strings.Join(messages, " "))
	switch {
	case joined == "":
		return ErrUnknown
	case strings.Contains(joined, "cooldown"):
		return ErrCooldown
	case strings.Contains(joined, "roster"):
		return ErrRoster
	case strings.Contains(joined, "schedule"):
		return ErrSchedule
	case strings.Contains(joined, "valid"):
		return ErrValidation
	default:
		return ErrAPI
	}
}
