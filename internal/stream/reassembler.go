package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"screenrelay/internal/domain"
)

const defaultPacing = 50 * time.Millisecond

// LineSource is a response body split into lines (transport.LineStream).
type LineSource interface {
	Next() (string, bool)
	Err() error
}

// Reassembler turns response lines into progressive renders of a Session.
// Session mutation and sink calls only ever happen inside tasks posted to the
// UI thread.
type Reassembler struct {
	session *Session
	ui      domain.UIThread
	sink    domain.DisplaySink
	pacing  time.Duration
	onToken func(token string)
	logger  *slog.Logger
}

type ReassemblerConfig struct {
	Session *Session
	UI      domain.UIThread
	Sink    domain.DisplaySink
	Pacing  time.Duration // delay between consecutive lines; negative = default
	OnToken func(token string)
	Logger  *slog.Logger
}

func NewReassembler(cfg ReassemblerConfig) *Reassembler {
	if cfg.Session == nil {
		cfg.Session = NewSession()
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = defaultPacing
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reassembler{
		session: cfg.Session,
		ui:      cfg.UI,
		sink:    cfg.Sink,
		pacing:  cfg.Pacing,
		onToken: cfg.OnToken,
		logger:  cfg.Logger,
	}
}

func (r *Reassembler) Session() *Session { return r.session }

// OnLine posts one token to the UI thread.
func (r *Reassembler) OnLine(text string) {
	r.ui.Post(func() {
		r.session.Append(text)
		r.show()
	})
	if r.onToken != nil {
		r.onToken(text)
	}
}

// OnEnd posts the end marker.
func (r *Reassembler) OnEnd() {
	r.ui.Post(func() {
		r.session.End()
		r.show()
	})
}

// show replaces the sink contents with the current render. UI thread only.
func (r *Reassembler) show() {
	r.sink.Clear()
	r.sink.Show(r.session.Render())
}

// Consume reads src to the end, feeding every non-blank trimmed line to
// OnLine with pacing in between, then OnEnd. A read failure stops without
// the end marker. Consume blocks and must run on a worker.
func (r *Reassembler) Consume(ctx context.Context, src LineSource) (int, error) {
	tokens := 0
	for {
		line, ok := src.Next()
		if !ok {
			break
		}
		word := strings.TrimSpace(line)
		if word == "" {
			continue
		}
		if tokens > 0 {
			if err := sleep(ctx, r.pacing); err != nil {
				return tokens, fmt.Errorf("%w: stream pacing: %v", domain.ErrInterruptedWait, err)
			}
		}
		r.OnLine(word)
		tokens++
	}

	if err := src.Err(); err != nil {
		r.logger.Warn("response stream ended early", "tokens", tokens, "err", err)
		if !errors.Is(err, domain.ErrTransportFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrTransportFailed, err)
		}
		return tokens, err
	}
	r.OnEnd()
	return tokens, nil
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
