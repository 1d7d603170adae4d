package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultWorkers = 4

// Gauge is the slice of metrics.Gauge the pool reports to.
type Gauge interface {
	Inc()
	Dec()
}

// Pool bounds how many pipelines run their blocking stages at once.
// A panicking task is recovered and reported as an error; the worker slot is
// always released.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64
	gauge  Gauge
	logger *slog.Logger
}

func NewPool(size int, gauge Gauge, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		gauge:  gauge,
		logger: logger,
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return cap(p.sem) }

// Active returns the number of workers currently running a task.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Do waits for a free worker and runs fn on it, returning when fn does.
// It returns ctx.Err() without running fn if ctx ends first.
func (p *Pool) Do(ctx context.Context, fn func()) (err error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	p.active.Add(1)
	if p.gauge != nil {
		p.gauge.Inc()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline worker panic", "panic", r)
			err = fmt.Errorf("worker panic: %v", r)
		}
		if p.gauge != nil {
			p.gauge.Dec()
		}
		p.active.Add(-1)
		<-p.sem
		p.wg.Done()
	}()

	fn()
	return nil
}

// Wait blocks until every running task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
