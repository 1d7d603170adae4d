package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"screenrelay/internal/bus"
	"screenrelay/internal/config"
	"screenrelay/internal/display"
	"screenrelay/internal/pipeline"
	"screenrelay/internal/tui"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message...>",
		Short: "Capture the screen, send it with a message and stream the reply",
		Long:  "The arguments are joined with single spaces and sent verbatim together with a fresh screenshot.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			closeLog, err := setupLogger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loop := display.NewLoop(logger)
			term := newTerminal()
			go loop.Run(ctx)

			a, err := newApp(ctx, cfg, loop, term)
			if err != nil {
				return err
			}

			res, sendErr := a.orch.Send(ctx, pipeline.DefaultConversation, strings.Join(args, " "))
			a.Close()

			if res.Record.ID != "" {
				for _, e := range a.events.ReplayRun(res.Record.ID) {
					logger.Debug("pipeline event", "run", e.Run, "type", e.Type, "state", e.State, "at", e.Timestamp.Format(time.RFC3339Nano))
				}
			}

			loop.Post(term.Finish)
			loop.Close()
			<-loop.Done()

			if sendErr != nil {
				return fmt.Errorf("%s: %w", pipeline.FailureKind(sendErr), sendErr)
			}
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat about the screen",
		Long:  "Every line you type (or 'send <message>') captures the screen and sends it. /reset starts a new session, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			closeLog, err := setupLogger(cfg, useTUI)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if useTUI {
				return runTUI(ctx, cfg)
			}
			return runREPL(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "full-screen terminal UI")
	return cmd
}

// runREPL and runTUI cancel in-flight pipelines on quit before closing the app.
func runREPL(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)

	loop := display.NewLoop(logger)
	term := newTerminal()
	go loop.Run(ctx)

	a, err := newApp(ctx, cfg, loop, term)
	if err != nil {
		cancel()
		return err
	}
	defer a.Close()
	defer cancel()

	// A finished reply is closed off so the next one starts below it.
	finish := func(bus.Event) { loop.Post(term.Finish) }
	a.events.On(bus.EventDone, finish)
	a.events.On(bus.EventFailed, finish)

	repl := display.NewREPL(display.REPLConfig{
		OnSend: func(message string) error {
			_, err := a.orch.Submit(pipeline.DefaultConversation, message)
			return err
		},
		OnReset: func() {
			a.orch.Reset(pipeline.DefaultConversation)
			loop.Post(term.Finish)
		},
		Logger: logger,
	})
	return repl.Run(ctx)
}

func runTUI(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)

	var orch *pipeline.Orchestrator
	prog := tui.New(ctx, tui.Config{
		OnSend: func(message string) error {
			_, err := orch.Submit(pipeline.DefaultConversation, message)
			return err
		},
		OnReset: func() { orch.Reset(pipeline.DefaultConversation) },
		Logger:  logger,
	})

	a, err := newApp(ctx, cfg, prog, prog.Sink())
	if err != nil {
		cancel()
		return err
	}
	defer a.Close()
	defer cancel()
	orch = a.orch
	prog.Subscribe(a.events)

	return prog.Run()
}

// newTerminal redraws replies in place when stdout is a terminal and falls
// back to appending text otherwise.
func newTerminal() *display.Terminal {
	return display.NewTerminal(display.TerminalConfig{
		Out:  os.Stdout,
		ANSI: isatty.IsTerminal(os.Stdout.Fd()),
	})
}
