package display

import (
	"context"
	"log/slog"
	"sync"
)

// Loop is a single-goroutine UI thread. Posted tasks run one at a time in
// posting order. Post never blocks the caller.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post queues task. Tasks posted after Close are dropped.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("ui task dropped: loop closed")
		return
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes tasks until ctx is cancelled or Close is called and the
// queue has drained.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range batch {
			l.run(task)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ui task panic", "panic", r)
		}
	}()
	task()
}

// Flush waits until every task posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	l.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks; Run returns once the queue is drained.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.stopped }
