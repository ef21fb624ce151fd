package storage

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

const retryBaseDelay = 2 * time.Second

// retrySleep waits between attempts; tests replace it
var retrySleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryStore retries transient upload failures with exponential backoff
type RetryStore struct {
	store    ObjectStore
	attempts int
	logger   *slog.Logger
}

// WithRetry wraps store. attempts below 2 disables retrying.
func WithRetry(store ObjectStore, attempts int, logger *slog.Logger) ObjectStore {
	if attempts < 2 {
		return store
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryStore{store: store, attempts: attempts, logger: logger}
}

func (s *RetryStore) Put(ctx context.Context, key, path string) (string, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 1; attempt <= s.attempts; attempt++ {
		remoteURL, err := s.store.Put(ctx, key, path)
		if err == nil {
			return remoteURL, nil
		}
		lastErr = err

		if attempt == s.attempts || !isRetryableUpload(err) {
			break
		}

		s.logger.Warn("upload failed, retrying", "key", key, "attempt", attempt, "delay", delay, "error", err)
		if err := retrySleep(ctx, delay); err != nil {
			return "", lastErr
		}
		delay *= 2
	}

	return "", lastErr
}

// isRetryableUpload reports whether err is worth another attempt: size
// mismatches, throttling, server errors and dropped connections
func isRetryableUpload(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrVerify) {
		return true
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
