package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"screenrelay/internal/bus"
	"screenrelay/internal/capture"
	"screenrelay/internal/domain"
	"screenrelay/internal/stream"
	"screenrelay/internal/transport"
)

const (
	DefaultConversation = "default"
	defaultEchoPrefix   = "Me: "
)

var errNotStarted = errors.New("orchestrator not started")

// Orchestrator runs send pipelines: capture, wait for the screenshot, encode,
// post it with the message and stream the reply into the conversation's
// session. Each conversation has its own bounded queue and a single consumer,
// so at most one pipeline writes to a session at a time. Blocking stages run
// on the shared worker pool.
type Orchestrator struct {
	capturer      domain.Capturer
	waiter        *capture.Waiter
	client        *transport.Client
	ui            domain.UIThread
	sink          domain.DisplaySink
	events        *bus.EventBus
	pool          *Pool
	runDir        string
	settle        time.Duration
	pacing        time.Duration
	resetEachSend bool
	showErrors    bool
	echoPrefix    string
	queueSize     int
	overflow      bus.Overflow
	logger        *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	closed  bool
	convs   map[string]*Conversation
	waiters map[string]chan Result
}

type Config struct {
	Capturer      domain.Capturer
	Waiter        *capture.Waiter
	Client        *transport.Client
	UI            domain.UIThread
	Sink          domain.DisplaySink
	Events        *bus.EventBus // optional
	Pool          *Pool         // optional, 4 workers
	RunDir        string
	SettleDelay   time.Duration
	Pacing        time.Duration // between reply tokens; negative = default
	ResetEachSend bool
	ShowErrors    bool
	EchoPrefix    string
	QueueSize     int
	Overflow      bus.Overflow
	Logger        *slog.Logger
}

// Conversation is one display session and its send queue.
type Conversation struct {
	id      string
	session *stream.Session
	queue   *bus.SendQueue
	done    chan struct{}
}

func (c *Conversation) ID() string               { return c.id }
func (c *Conversation) Session() *stream.Session { return c.session }

// Result is the outcome of one pipeline run.
type Result struct {
	Record domain.RunRecord
	Err    error
}

// run is the mutable state of one pipeline. Only the goroutine executing the
// pipeline touches it.
type run struct {
	cmd  domain.SendCommand
	conv *Conversation
	rec  domain.RunRecord
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Waiter == nil {
		cfg.Waiter = capture.NewWaiter(capture.WaiterConfig{Logger: cfg.Logger})
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	if cfg.Pool == nil {
		cfg.Pool = NewPool(defaultWorkers, nil, cfg.Logger)
	}
	if cfg.EchoPrefix == "" {
		cfg.EchoPrefix = defaultEchoPrefix
	}
	return &Orchestrator{
		capturer:      cfg.Capturer,
		waiter:        cfg.Waiter,
		client:        cfg.Client,
		ui:            cfg.UI,
		sink:          cfg.Sink,
		events:        cfg.Events,
		pool:          cfg.Pool,
		runDir:        cfg.RunDir,
		settle:        cfg.SettleDelay,
		pacing:        cfg.Pacing,
		resetEachSend: cfg.ResetEachSend,
		showErrors:    cfg.ShowErrors,
		echoPrefix:    cfg.EchoPrefix,
		queueSize:     cfg.QueueSize,
		overflow:      cfg.Overflow,
		logger:        cfg.Logger,
		convs:         make(map[string]*Conversation),
		waiters:       make(map[string]chan Result),
	}
}

// Events returns the bus pipeline events are emitted on.
func (o *Orchestrator) Events() *bus.EventBus { return o.events }

// Start sets the context every pipeline runs under. Cancelling it unwinds
// pending waits as ErrInterruptedWait.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx = ctx
}

// Submit queues a send on conversation without waiting for it. An empty
// message is refused before anything is queued.
func (o *Orchestrator) Submit(conversation, message string) (domain.SendCommand, error) {
	cmd, _, err := o.submit(conversation, message, false)
	return cmd, err
}

// Send queues a send and waits for its pipeline to finish.
func (o *Orchestrator) Send(ctx context.Context, conversation, message string) (Result, error) {
	cmd, ch, err := o.submit(conversation, message, true)
	if err != nil {
		return Result{}, err
	}

	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.waiters, cmd.ID)
		o.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %v", ErrInterruptedWait, ctx.Err())
	}
}

func (o *Orchestrator) submit(conversation, message string, wait bool) (domain.SendCommand, <-chan Result, error) {
	if strings.TrimSpace(message) == "" {
		return domain.SendCommand{}, nil, fmt.Errorf("%w: send needs a message", ErrEmptyMessage)
	}
	if conversation == "" {
		conversation = DefaultConversation
	}

	conv, err := o.conversation(conversation)
	if err != nil {
		return domain.SendCommand{}, nil, err
	}

	cmd := domain.SendCommand{
		ID:           uuid.NewString(),
		Conversation: conversation,
		Message:      message,
		IssuedAt:     time.Now(),
	}
	var ch chan Result
	if wait {
		ch = make(chan Result, 1)
		o.mu.Lock()
		o.waiters[cmd.ID] = ch
		o.mu.Unlock()
	}

	if err := conv.queue.Publish(cmd); err != nil {
		o.resolve(cmd.ID, Result{Err: err})
		if errors.Is(err, ErrQueueFull) {
			o.events.Emit(bus.Event{
				Type:         bus.EventRejected,
				Run:          cmd.ID,
				Conversation: conversation,
				Payload:      map[string]any{"kind": FailureKind(err)},
			})
		}
		return domain.SendCommand{}, nil, err
	}
	o.logger.Debug("send queued", "run", cmd.ID, "conversation", conversation, "waiting", conv.queue.Len())
	return cmd, ch, nil
}

// Conversation returns the conversation with id, creating it on first use.
func (o *Orchestrator) Conversation(id string) (*Conversation, error) {
	return o.conversation(id)
}

func (o *Orchestrator) conversation(id string) (*Conversation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx == nil || o.closed {
		return nil, errNotStarted
	}
	if c, ok := o.convs[id]; ok {
		return c, nil
	}

	c := &Conversation{
		id:      id,
		session: stream.NewSession(),
		done:    make(chan struct{}),
	}
	c.queue = bus.NewSendQueue(bus.QueueConfig{
		Size:     o.queueSize,
		Overflow: o.overflow,
		OnDrop:   o.dropped,
		Logger:   o.logger,
	})
	o.convs[id] = c
	go o.consume(o.ctx, c)
	o.logger.Info("conversation opened", "conversation", id)
	return c, nil
}

// Reset starts a new session on conversation. The reset runs on the UI
// thread, after anything already posted there.
func (o *Orchestrator) Reset(conversation string) {
	if conversation == "" {
		conversation = DefaultConversation
	}
	o.mu.Lock()
	c, ok := o.convs[conversation]
	o.mu.Unlock()
	if !ok {
		return
	}
	o.ui.Post(c.session.Reset)
	o.logger.Info("session reset", "conversation", conversation)
}

// Close stops accepting sends, lets every queued send finish and waits for
// the consumers to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	convs := make([]*Conversation, 0, len(o.convs))
	for _, c := range o.convs {
		convs = append(convs, c)
	}
	o.mu.Unlock()

	for _, c := range convs {
		c.queue.Close()
	}
	for _, c := range convs {
		<-c.done
	}
	o.pool.Wait()
}

func (o *Orchestrator) dropped(cmd domain.SendCommand) {
	err := fmt.Errorf("%w: dropped for a newer send", ErrQueueFull)
	o.resolve(cmd.ID, Result{Err: err})
	o.events.Emit(bus.Event{
		Type:         bus.EventDropped,
		Run:          cmd.ID,
		Conversation: cmd.Conversation,
		Payload:      map[string]any{"kind": FailureKind(err)},
	})
}

func (o *Orchestrator) resolve(id string, res Result) {
	o.mu.Lock()
	ch, ok := o.waiters[id]
	delete(o.waiters, id)
	o.mu.Unlock()
	if ok {
		ch <- res
	}
}

// consume is the single consumer of a conversation's queue.
func (o *Orchestrator) consume(ctx context.Context, c *Conversation) {
	defer close(c.done)
	for cmd := range c.queue.Subscribe() {
		r := &run{
			cmd:  cmd,
			conv: c,
			rec: domain.RunRecord{
				ID:           cmd.ID,
				Conversation: c.id,
				State:        domain.StateIdle,
				MessageLen:   len(cmd.Message),
			},
		}

		var err error
		if poolErr := o.pool.Do(ctx, func() { err = o.execute(ctx, r) }); poolErr != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: no worker before shutdown: %v", ErrInterruptedWait, poolErr)
			} else {
				err = poolErr
			}
		}
		o.finish(r, err)
	}
	o.logger.Debug("conversation closed", "conversation", c.id)
}

// execute walks the state machine up to the end of the reply stream.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	r.rec.StartedAt = time.Now()
	o.enter(r, domain.StateCapturing)

	if o.resetEachSend {
		o.ui.Post(r.conv.session.Reset)
	}
	if err := sleep(ctx, o.settle); err != nil {
		return fmt.Errorf("%w: settle delay: %v", ErrInterruptedWait, err)
	}

	desc, err := o.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: capture: %v", ErrInterruptedWait, err)
		}
		if FailureKind(err) == "unknown" {
			err = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		return err
	}
	path, err := capture.ParseDescriptor(o.runDir, desc)
	if err != nil {
		return err
	}

	o.enter(r, domain.StateWaitingForFile)
	handle := &domain.CaptureHandle{Path: path}
	data, err := o.waiter.Await(ctx, handle)
	if err != nil {
		return err
	}

	o.enter(r, domain.StateEncoding)
	image := capture.Encode(data)
	r.rec.ImageBytes = len(data)

	o.enter(r, domain.StateSending)
	sent := r.rec
	lines, err := o.client.Send(ctx, domain.OutgoingRequest{Message: r.cmd.Message, Image: image}, func() {
		o.echo(sent, r.cmd.Message)
	})
	if err != nil {
		return err
	}
	defer lines.Close()

	o.enter(r, domain.StateStreaming)
	index := 0
	re := stream.NewReassembler(stream.ReassemblerConfig{
		Session: r.conv.session,
		UI:      o.ui,
		Sink:    o.sink,
		Pacing:  o.pacing,
		OnToken: func(token string) {
			o.events.Emit(bus.Event{
				Type:         bus.EventToken,
				Run:          r.rec.ID,
				Conversation: r.rec.Conversation,
				State:        domain.StateStreaming,
				Payload:      map[string]any{"token": token, "index": index},
			})
			index++
		},
		Logger: o.logger.With("run", r.rec.ID),
	})
	tokens, err := re.Consume(ctx, lines)
	r.rec.Tokens = tokens
	return err
}

// echo shows the user's message. It runs on the transport's write path once
// the request is on the wire, so it is posted before any reply render.
func (o *Orchestrator) echo(rec domain.RunRecord, message string) {
	o.ui.Post(func() {
		o.sink.Show(o.echoPrefix + message)
	})
	o.events.Emit(bus.Event{
		Type:         bus.EventEcho,
		Run:          rec.ID,
		Conversation: rec.Conversation,
		State:        domain.StateSending,
		Payload:      map[string]any{"record": rec},
	})
}

func (o *Orchestrator) finish(r *run, err error) {
	r.rec.FinishedAt = time.Now()
	if r.rec.StartedAt.IsZero() {
		r.rec.StartedAt = r.rec.FinishedAt
	}

	if err == nil {
		o.enter(r, domain.StateDone)
		o.emit(r, bus.EventDone, map[string]any{"tokens": r.rec.Tokens})
		o.logger.Info("pipeline done", "run", r.rec.ID, "conversation", r.rec.Conversation,
			"tokens", r.rec.Tokens, "duration", r.rec.Duration())
		o.resolve(r.rec.ID, Result{Record: r.rec})
		return
	}

	kind := FailureKind(err)
	r.rec.Failure = kind
	r.rec.Error = err.Error()
	o.logger.Error("pipeline failed", "run", r.rec.ID, "conversation", r.rec.Conversation,
		"kind", kind, "stage", r.rec.State, "err", err)
	o.enter(r, domain.StateFailed)
	o.emit(r, bus.EventFailed, map[string]any{"kind": kind, "error": err.Error()})

	if o.showErrors {
		msg := fmt.Sprintf("[%s] %v", kind, err)
		o.ui.Post(func() { o.sink.Show(msg) })
	}
	o.resolve(r.rec.ID, Result{Record: r.rec, Err: err})
}

func (o *Orchestrator) enter(r *run, state domain.PipelineState) {
	r.rec.State = state
	o.logger.Debug("pipeline state", "run", r.rec.ID, "state", state)
	o.emit(r, bus.EventState, nil)
}

// emit publishes a run event carrying a snapshot of the run record.
func (o *Orchestrator) emit(r *run, typ string, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["record"] = r.rec
	payload["startedAt"] = r.rec.StartedAt
	o.events.Emit(bus.Event{
		Type:         typ,
		Run:          r.rec.ID,
		Conversation: r.rec.Conversation,
		State:        r.rec.State,
		Payload:      payload,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
