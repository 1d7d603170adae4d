package domain

import "time"

// OutgoingRequest is the body posted to the inference server.
// Image is empty only when capture or encoding failed.
type OutgoingRequest struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

// SendCommand is one user-issued "send" waiting for a pipeline.
type SendCommand struct {
	ID           string
	Conversation string
	Message      string
	IssuedAt     time.Time
}

// CaptureHandle tracks the screenshot file a pipeline is waiting for.
// Only the screenshot waiter mutates it.
type CaptureHandle struct {
	Path     string
	Ready    bool
	Attempts int
}
