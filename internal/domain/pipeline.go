package domain

import "time"

// PipelineState is a step of the send state machine.
type PipelineState string

const (
	StateIdle           PipelineState = "idle"
	StateCapturing      PipelineState = "capturing"
	StateWaitingForFile PipelineState = "waiting_for_file"
	StateEncoding       PipelineState = "encoding"
	StateSending        PipelineState = "sending"
	StateStreaming      PipelineState = "streaming"
	StateDone           PipelineState = "done"
	StateFailed         PipelineState = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// RunRecord is the diagnostic record of one pipeline run.
// It never carries message content.
type RunRecord struct {
	ID           string        `json:"id"`
	Conversation string        `json:"conversation"`
	State        PipelineState `json:"state"`
	Failure      string        `json:"failure,omitempty"` // taxonomy label, empty on success
	Error        string        `json:"error,omitempty"`
	MessageLen   int           `json:"message_len"`
	ImageBytes   int           `json:"image_bytes"`
	Tokens       int           `json:"tokens"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is still open.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
