package domain

import "context"

// Capturer asks the host to write a screenshot and returns the host's
// description of the result (e.g. "Saved screenshot as 2024-01-01_10.00.00.png").
// An empty description means the host produced nothing.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// DisplaySink is the host surface that shows the conversation text.
// Show without a preceding Clear appends; Clear then Show replaces.
type DisplaySink interface {
	Clear()
	Show(text string)
}

// UIThread is the host's single UI execution context. Workers never call a
// DisplaySink directly; they post a task here instead.
type UIThread interface {
	Post(task func())
}

// RunJournal persists pipeline run records for diagnostics.
type RunJournal interface {
	StartRun(ctx context.Context, rec RunRecord) error
	FinishRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
