package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"screenrelay/internal/bus"
	"screenrelay/internal/capture"
	"screenrelay/internal/config"
	"screenrelay/internal/display"
	"screenrelay/internal/domain"
	"screenrelay/internal/journal"
	"screenrelay/internal/metrics"
	"screenrelay/internal/pipeline"
	"screenrelay/internal/transport"
)

const journalRetention = 30 * 24 * time.Hour

// app is everything a pipeline needs, wired from the config.
type app struct {
	ctx      context.Context
	orch     *pipeline.Orchestrator
	events   *bus.EventBus
	telegram *display.Telegram
	journal  domain.RunJournal
}

// newApp wires capture, transport, the worker pool, the event bus and its
// subscribers (metrics, run journal) around ui and sink. The orchestrator is
// started under ctx.
func newApp(ctx context.Context, cfg *config.Config, ui domain.UIThread, sink domain.DisplaySink) (*app, error) {
	if err := os.MkdirAll(capture.ScreenshotDir(cfg.General.RunDir), 0o755); err != nil {
		return nil, fmt.Errorf("run directory: %w", err)
	}

	capturer, err := capture.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		ctx:     ctx,
		events:  bus.NewEventBus(logger),
		journal: journal.Nop{},
	}

	var activeWorkers pipeline.Gauge
	if cfg.Metrics.Enabled {
		collector := metrics.NewMetricsCollector("screenrelay")
		pm := metrics.NewPipeline(collector)
		pm.Subscribe(a.events)
		activeWorkers = pm.ActiveWorkers
		metrics.NewServer(metrics.ServerConfig{
			Addr:     cfg.Metrics.Addr,
			Endpoint: cfg.Metrics.Endpoint,
			Logger:   logger,
		}, collector).Start(ctx)
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			// Diagnostics only: run without a journal rather than not at all.
			logger.Warn("run journal unavailable", "path", cfg.Journal.DBPath, "err", err)
		} else {
			if n, err := j.Prune(ctx, journalRetention); err == nil && n > 0 {
				logger.Info("pruned old runs", "count", n)
			}
			a.journal = j
			journal.NewRecorder(j, logger).Subscribe(a.events)
		}
	}

	if tc := cfg.Display.Telegram; tc.Enabled {
		tg, err := display.NewTelegram(display.TelegramConfig{
			Token:  tc.Token,
			ChatID: tc.ChatID,
			Logger: logger,
		})
		if err != nil {
			a.journal.Close()
			return nil, err
		}
		go tg.Run(ctx)
		a.telegram = tg
		sink = display.Tee{sink, tg}
	}

	a.orch = pipeline.New(pipeline.Config{
		Capturer: capturer,
		Waiter: capture.NewWaiter(capture.WaiterConfig{
			MaxAttempts: cfg.Capture.MaxAttempts,
			RetryDelay:  time.Duration(cfg.Capture.RetryDelayMs) * time.Millisecond,
			Logger:      logger,
		}),
		Client: transport.NewClient(transport.ClientConfig{
			URL:     cfg.Server.URL,
			Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			Logger:  logger,
		}),
		UI:            ui,
		Sink:          sink,
		Events:        a.events,
		Pool:          pipeline.NewPool(cfg.Pipeline.Workers, activeWorkers, logger),
		RunDir:        cfg.General.RunDir,
		SettleDelay:   time.Duration(cfg.Capture.SettleDelayMs) * time.Millisecond,
		Pacing:        time.Duration(cfg.Stream.PacingMs) * time.Millisecond,
		ResetEachSend: cfg.Stream.ResetEachSend,
		ShowErrors:    cfg.Display.ShowErrors,
		EchoPrefix:    cfg.Display.EchoPrefix,
		QueueSize:     cfg.Pipeline.QueueSize,
		Overflow:      bus.Overflow(cfg.Pipeline.Overflow),
		Logger:        logger,
	})
	a.orch.Start(ctx)
	return a, nil
}

// Close lets queued sends finish, flushes the Telegram display and closes
// the journal.
func (a *app) Close() {
	a.orch.Close()
	if a.telegram != nil && a.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.telegram.Flush(ctx); err != nil {
			logger.Warn("telegram display not flushed", "err", err)
		}
		cancel()
	}
	if err := a.journal.Close(); err != nil {
		logger.Warn("journal close failed", "err", err)
	}
}
