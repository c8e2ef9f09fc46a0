package webclient

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type AttemptFunc func() (status int, body []byte, err error)

// Transient reports statuses worth another attempt.
func Transient(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// DoWithRetry retries the attempt function on transient errors (429/5xx) or non-nil errors.
// Only use it for idempotent requests.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	for i := 0; i < attempts; i++ {
		status, body, err := fn()
		if err == nil && !Transient(status) {
			return status, body, nil
		}
		if i == attempts-1 {
			return status, body, err
		}
		logrus.WithFields(logrus.Fields{"attempt": i + 1, "status": status, "error": err}).
			Debug("webclient: transient failure, retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return 0, nil, context.DeadlineExceeded
}
