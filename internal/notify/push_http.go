package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/clients"
	"fieldtrack/pkg/models"
)

// HTTPPushProvider is the one concrete PushProvider: a retrying, circuit-
// broken HTTP client against a configured push gateway. No vendor push SDK
// (FCM/APNs/etc.) appears anywhere in the example corpus, so this speaks a
// plain JSON-over-HTTP contract instead.
type HTTPPushProvider struct {
	url        string
	authToken  string
	httpClient *http.Client
	breaker    *clients.CircuitBreaker
	logger     *logrus.Logger
}

// NewHTTPPushProvider builds a provider against baseURL, authenticating
// with a bearer token.
func NewHTTPPushProvider(baseURL, authToken string, logger *logrus.Logger) *HTTPPushProvider {
	return &HTTPPushProvider{
		url:        baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:   "push-provider",
			Logger: logger,
		}),
		logger: logger,
	}
}

type pushRequest struct {
	Token    string                 `json:"token"`
	Platform string                 `json:"platform"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type pushErrorBody struct {
	ErrorType string `json:"errorType"`
}

// Send implements PushProvider.
func (p *HTTPPushProvider) Send(ctx context.Context, token models.DeviceToken, title, message string, data map[string]interface{}) error {
	body, err := json.Marshal(pushRequest{
		Token: token.Token, Platform: token.Platform, Title: title, Message: message, Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshaling push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.authToken)

	cfg := clients.RetryConfig{
		MaxRetries:     3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryFunc:      clients.DefaultShouldRetry,
		CircuitBreaker: p.breaker,
	}
	resp, err := clients.DoWithRetry(ctx, p.httpClient, req, cfg)
	if err != nil {
		return fmt.Errorf("push provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrDeviceNotRegistered
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var parsed pushErrorBody
		if json.Unmarshal(respBody, &parsed) == nil && parsed.ErrorType == "DeviceNotRegistered" {
			return ErrDeviceNotRegistered
		}
		return fmt.Errorf("push provider returned status %d", resp.StatusCode)
	}
	return nil
}
