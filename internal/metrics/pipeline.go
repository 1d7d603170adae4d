package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"screenrelay/internal/bus"
	"screenrelay/internal/domain"
)

var stageBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Pipeline holds the screenrelay series and keeps them current from
// pipeline events.
type Pipeline struct {
	c *MetricsCollector

	Started       *Counter
	Done          *Counter
	Tokens        *Counter
	QueueRejected *Counter
	QueueDropped  *Counter
	ActiveWorkers *Gauge
	RunLatency    *Histogram

	mu     sync.Mutex
	stages map[string]stageMark // run ID -> current stage
}

type stageMark struct {
	state domain.PipelineState
	since time.Time
}

func NewPipeline(c *MetricsCollector) *Pipeline {
	return &Pipeline{
		c:             c,
		Started:       c.Counter("screenrelay_pipelines_started_total", "Pipelines started", ""),
		Done:          c.Counter("screenrelay_pipelines_done_total", "Pipelines that rendered a full reply", ""),
		Tokens:        c.Counter("screenrelay_tokens_rendered_total", "Reply tokens rendered", ""),
		QueueRejected: c.Counter("screenrelay_queue_rejected_total", "Sends refused by a full queue", ""),
		QueueDropped:  c.Counter("screenrelay_queue_dropped_total", "Waiting sends evicted by drop-oldest", ""),
		ActiveWorkers: c.Gauge("screenrelay_active_workers", "Pool workers currently running a stage", ""),
		RunLatency: c.Histogram("screenrelay_pipeline_seconds", "End-to-end pipeline latency in seconds", "",
			stageBuckets),
		stages: make(map[string]stageMark),
	}
}

// Collector returns the underlying collector.
func (p *Pipeline) Collector() *MetricsCollector { return p.c }

// Failed returns the failure counter for kind.
func (p *Pipeline) Failed(kind string) *Counter {
	return p.c.Counter("screenrelay_pipelines_failed_total", "Pipelines that failed, by failure kind", `kind="`+kind+`"`)
}

// Stage returns the latency histogram for one pipeline stage.
func (p *Pipeline) Stage(state domain.PipelineState) *Histogram {
	return p.c.Histogram("screenrelay_stage_seconds", "Time spent in each pipeline stage in seconds",
		`stage="`+string(state)+`"`, stageBuckets)
}

// Subscribe wires the series to pipeline events on eb.
func (p *Pipeline) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventState, p.onState)
	eb.On(bus.EventToken, func(bus.Event) { p.Tokens.Inc() })
	eb.On(bus.EventRejected, func(bus.Event) { p.QueueRejected.Inc() })
	eb.On(bus.EventDropped, func(bus.Event) { p.QueueDropped.Inc() })
	eb.On(bus.EventDone, func(e bus.Event) {
		p.Done.Inc()
		p.observeRun(e)
	})
	eb.On(bus.EventFailed, func(e bus.Event) {
		kind, _ := e.Payload["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		p.Failed(kind).Inc()
		p.observeRun(e)
	})
}

func (p *Pipeline) onState(e bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.stages[e.Run]; ok {
		p.Stage(prev.state).ObserveDuration(e.Timestamp.Sub(prev.since))
	} else if e.State == domain.StateCapturing {
		p.Started.Inc()
	}

	if e.State.Terminal() {
		delete(p.stages, e.Run)
		return
	}
	p.stages[e.Run] = stageMark{state: e.State, since: e.Timestamp}
}

func (p *Pipeline) observeRun(e bus.Event) {
	if started, ok := e.Payload["startedAt"].(time.Time); ok {
		p.RunLatency.ObserveDuration(e.Timestamp.Sub(started))
	}
}

// Server exposes a collector over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

type ServerConfig struct {
	Addr     string
	Endpoint string
	Logger   *slog.Logger
}

func NewServer(cfg ServerConfig, c *MetricsCollector) *Server {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, c.Handler())
	return &Server{
		srv:    &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: cfg.Logger,
	}
}

// Start serves in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("metrics endpoint listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()
}
