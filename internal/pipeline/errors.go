package pipeline

import (
	"errors"

	"screenrelay/internal/domain"
)

// Failure taxonomy. Every pipeline error wraps exactly one of these.
var (
	ErrCaptureFailed   = domain.ErrCaptureFailed
	ErrCaptureTimeout  = domain.ErrCaptureTimeout
	ErrReadFailed      = domain.ErrReadFailed
	ErrTransportFailed = domain.ErrTransportFailed
	ErrInterruptedWait = domain.ErrInterruptedWait
	ErrQueueFull       = domain.ErrQueueFull
	ErrEmptyMessage    = domain.ErrEmptyMessage
)

var failureKinds = []struct {
	err  error
	kind string
}{
	{ErrCaptureFailed, "capture_failed"},
	{ErrCaptureTimeout, "capture_timeout"},
	{ErrReadFailed, "read_failed"},
	{ErrTransportFailed, "transport_failed"},
	{ErrInterruptedWait, "interrupted_wait"},
	{ErrQueueFull, "queue_full"},
	{ErrEmptyMessage, "empty_message"},
}

// FailureKind returns the taxonomy label of err for logs, metrics and run
// records. Unclassified errors are "unknown"; nil is "".
func FailureKind(err error) string {
	if err == nil {
		return ""
	}
	for _, fk := range failureKinds {
		if errors.Is(err, fk.err) {
			return fk.kind
		}
	}
	return "unknown"
}
