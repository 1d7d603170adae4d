package domain

import "errors"

// Pipeline failure taxonomy. Stage packages wrap these with %w so callers can
// classify any failure with errors.Is.
var (
	ErrCaptureFailed   = errors.New("capture failed")
	ErrCaptureTimeout  = errors.New("capture timeout")
	ErrReadFailed      = errors.New("screenshot read failed")
	ErrTransportFailed = errors.New("transport failed")
	ErrInterruptedWait = errors.New("interrupted wait")
	ErrQueueFull       = errors.New("send queue full")
	ErrEmptyMessage    = errors.New("empty message")
)
