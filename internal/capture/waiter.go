package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"screenrelay/internal/domain"
)

const (
	defaultMaxAttempts = 10
	defaultRetryDelay  = 100 * time.Millisecond
)

// Waiter polls for a screenshot file the host writes asynchronously.
type Waiter struct {
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger

	// stat is swapped in tests to count existence checks.
	stat func(string) (os.FileInfo, error)
}

// WaiterConfig holds the polling bounds.
type WaiterConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

func NewWaiter(cfg WaiterConfig) *Waiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Waiter{
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger,
		stat:        os.Stat,
	}
}

// Await checks h.Path up to maxAttempts times and returns the file contents
// as soon as it exists. h.Attempts counts the existence checks made and
// h.Ready is set once the file was seen.
//
// A read failure after the file appeared is terminal. There is no delay after
// the final check.
func (w *Waiter) Await(ctx context.Context, h *domain.CaptureHandle) ([]byte, error) {
	for h.Attempts < w.maxAttempts {
		h.Attempts++
		if _, err := w.stat(h.Path); err == nil {
			h.Ready = true
			data, err := os.ReadFile(h.Path)
			if err != nil {
				w.logger.Error("screenshot read failed", "path", h.Path, "err", err)
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrReadFailed, h.Path, err)
			}
			w.logger.Debug("screenshot ready", "path", h.Path, "attempts", h.Attempts, "bytes", len(data))
			return data, nil
		}

		if h.Attempts == w.maxAttempts {
			break
		}
		if err := sleep(ctx, w.retryDelay); err != nil {
			return nil, fmt.Errorf("%w: waiting for %s: %v", domain.ErrInterruptedWait, h.Path, err)
		}
	}
	return nil, fmt.Errorf("%w: %s not found after %d attempts", domain.ErrCaptureTimeout, h.Path, h.Attempts)
}

// AwaitFile is the one-shot form of Waiter.Await for a single path.
func AwaitFile(ctx context.Context, path string, maxAttempts int, retryDelay time.Duration) ([]byte, error) {
	w := NewWaiter(WaiterConfig{MaxAttempts: maxAttempts, RetryDelay: retryDelay})
	return w.Await(ctx, &domain.CaptureHandle{Path: path})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
