package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"screenrelay/internal/bus"
	"screenrelay/internal/display"
	"screenrelay/internal/domain"
)

// Program is the bubbletea chat UI. It is the UI thread (Post) and, through
// Sink, the display the pipelines render into.
//
// tea.Program.Send blocks until Update picks the message up, and callbacks
// running inside Update may post too, so messages go through a FIFO pump
// instead of being sent directly.
type Program struct {
	p      *tea.Program
	model  *Model
	pump   *display.Loop
	ctx    context.Context
	logger *slog.Logger
}

type Config struct {
	OnSend  func(message string) error
	OnReset func()
	Input   io.Reader // nil = stdin
	Output  io.Writer // nil = stdout
	Logger  *slog.Logger
}

func New(ctx context.Context, cfg Config) *Program {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger
	model := newModel(cfg.OnSend, cfg.OnReset, func(r any) {
		logger.Error("ui task panic", "panic", r)
	})

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if cfg.Input != nil {
		opts = append(opts, tea.WithInput(cfg.Input))
	}
	if cfg.Output != nil {
		opts = append(opts, tea.WithOutput(cfg.Output))
	}

	return &Program{
		p:      tea.NewProgram(model, opts...),
		model:  model,
		pump:   display.NewLoop(logger),
		ctx:    ctx,
		logger: logger,
	}
}

// Post runs task inside the program's update loop. It never blocks.
func (p *Program) Post(task func()) {
	p.send(taskMsg(task))
}

func (p *Program) send(msg tea.Msg) {
	p.pump.Post(func() { p.p.Send(msg) })
}

// Sink returns the transcript. Only call it from posted tasks.
func (p *Program) Sink() domain.DisplaySink { return p.model }

// Subscribe mirrors pipeline progress into the status bar.
func (p *Program) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventState, func(e bus.Event) {
		if e.State.Terminal() {
			return
		}
		p.send(statusMsg(strings.ReplaceAll(string(e.State), "_", " ") + "..."))
	})
	eb.On(bus.EventDone, func(bus.Event) { p.send(statusMsg("Ready")) })
	eb.On(bus.EventFailed, func(e bus.Event) {
		kind, _ := e.Payload["kind"].(string)
		p.send(statusMsg("Failed: " + kind))
	})
	eb.On(bus.EventDropped, func(bus.Event) { p.send(statusMsg("Dropped a waiting send")) })
}

// Run blocks until the user quits or ctx is cancelled.
func (p *Program) Run() error {
	pumpCtx, stop := context.WithCancel(p.ctx)
	defer stop()
	go p.pump.Run(pumpCtx)

	_, err := p.p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (p *Program) Quit() {
	p.p.Quit()
}
