package journal

import (
	"context"
	"log/slog"
	"time"

	"screenrelay/internal/bus"
	"screenrelay/internal/domain"
)

const writeTimeout = 5 * time.Second

// Recorder writes RunRecords carried by pipeline events. Events without a
// Payload["record"] are ignored. Journal errors are logged, never returned:
// diagnostics must not fail a pipeline.
type Recorder struct {
	journal domain.RunJournal
	logger  *slog.Logger
}

func NewRecorder(j domain.RunJournal, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{journal: j, logger: logger}
}

// Subscribe registers the recorder on eb.
func (r *Recorder) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventState, func(e bus.Event) {
		if e.State != domain.StateCapturing {
			return
		}
		if rec, ok := recordOf(e); ok {
			r.write("start", rec, r.journal.StartRun)
		}
	})
	finish := func(e bus.Event) {
		if rec, ok := recordOf(e); ok {
			r.write("finish", rec, r.journal.FinishRun)
		}
	}
	eb.On(bus.EventDone, finish)
	eb.On(bus.EventFailed, finish)
}

func (r *Recorder) write(op string, rec domain.RunRecord, fn func(context.Context, domain.RunRecord) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := fn(ctx, rec); err != nil {
		r.logger.Warn("journal write failed", "op", op, "run", rec.ID, "err", err)
	}
}

func recordOf(e bus.Event) (domain.RunRecord, bool) {
	rec, ok := e.Payload["record"].(domain.RunRecord)
	return rec, ok
}
