package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/lessoncall/internal/webhook"
	"github.com/google/uuid"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 500 * time.Millisecond
)

// HTTPSender posts call notifications to the academy's webhook endpoint.
// Transport errors and 5xx responses are retried; every attempt of one
// notification carries the same delivery id so the receiver can drop
// duplicates.
type HTTPSender struct {
	webhookURL  string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: defaultRequestTimeout},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// SendCallNotification posts n as JSON. An empty webhook URL disables
// delivery.
func (s *HTTPSender) SendCallNotification(ctx context.Context, n webhook.CallNotification) error {
	if s.webhookURL == "" {
		return nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	deliveryID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.post(ctx, n.Type, deliveryID, b)
		if lastErr == nil {
			slog.InfoContext(ctx, "call webhook delivered",
				"type", string(n.Type),
				"lesson_id", n.LessonID,
				"delivery_id", deliveryID,
				"attempt", attempt,
			)
			return nil
		}
		if !retryable(lastErr) || attempt == s.maxAttempts {
			break
		}
		slog.WarnContext(ctx, "call webhook attempt failed",
			"error", lastErr,
			"type", string(n.Type),
			"lesson_id", n.LessonID,
			"attempt", attempt,
		)
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to deliver %s webhook: %w", n.Type, lastErr)
}

func (s *HTTPSender) post(ctx context.Context, typ webhook.EventType, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Lessoncall-Event", string(typ))
	req.Header.Set("X-Lessoncall-Delivery", deliveryID)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// retryable reports transport failures and server errors. Client errors
// mean the receiver rejected the payload and will do so again.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}
