package display

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMinEditGap     = time.Second
	telegramMaxSendRetries = 3
)

// Telegram is a DisplaySink backed by one Telegram chat. An appending Show
// sends a new message; a Clear+Show edits the message holding the current
// reply in place. Renders are coalesced and edits are spaced out to stay
// under Telegram's rate limits, so Show never blocks on the network.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	minGap  time.Duration
	logger  *slog.Logger
	replace bool // UI thread only

	mu   sync.Mutex
	ops  []telegramOp
	wake chan struct{}

	// worker state
	replyID  int
	lastText string
}

type telegramOp struct {
	kind    opKind
	text    string
	barrier chan struct{}
}

type opKind int

const (
	opAppend opKind = iota
	opReplace
	opBarrier
)

type TelegramConfig struct {
	Token      string
	ChatID     int64
	Endpoint   string // API endpoint format, default tgbotapi.APIEndpoint
	HTTPClient *http.Client
	MinEditGap time.Duration
	Logger     *slog.Logger
}

// NewTelegram connects to the bot API (getMe) and returns the sink. Call Run
// to start delivering.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MinEditGap <= 0 {
		cfg.MinEditGap = telegramMinEditGap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram display connected", "username", bot.Self.UserName, "chat_id", cfg.ChatID)
	return &Telegram{
		bot:    bot,
		chatID: cfg.ChatID,
		minGap: cfg.MinEditGap,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
	}, nil
}

func (t *Telegram) Clear() {
	t.replace = true
}

func (t *Telegram) Show(text string) {
	kind := opAppend
	if t.replace {
		kind = opReplace
		t.replace = false
	}
	t.enqueue(telegramOp{kind: kind, text: text})
}

func (t *Telegram) enqueue(op telegramOp) {
	t.mu.Lock()
	// A queued replace that has not been delivered yet is superseded.
	if n := len(t.ops); op.kind == opReplace && n > 0 && t.ops[n-1].kind == opReplace {
		t.ops[n-1] = op
	} else {
		t.ops = append(t.ops, op)
	}
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Flush waits until everything shown so far has been delivered.
func (t *Telegram) Flush(ctx context.Context) error {
	done := make(chan struct{})
	t.enqueue(telegramOp{kind: opBarrier, barrier: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued renders until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	var lastEdit time.Time
	for {
		t.mu.Lock()
		var op telegramOp
		ok := len(t.ops) > 0
		if ok {
			op = t.ops[0]
			t.ops = t.ops[1:]
		}
		t.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
			}
			continue
		}

		switch op.kind {
		case opBarrier:
			close(op.barrier)
		case opAppend:
			// The next reply goes below this message, not into an older one.
			if _, err := t.send(ctx, op.text); err == nil {
				t.replyID = 0
				t.lastText = ""
			}
		case opReplace:
			if wait := t.minGap - time.Since(lastEdit); t.replyID != 0 && wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				// Pick up anything that superseded this render while waiting.
				op = t.latestReplace(op)
			}
			t.deliverReplace(ctx, op.text)
			lastEdit = time.Now()
		}
	}
}

func (t *Telegram) latestReplace(op telegramOp) telegramOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ops) > 0 && t.ops[0].kind == opReplace {
		op = t.ops[0]
		t.ops = t.ops[1:]
	}
	return op
}

func (t *Telegram) deliverReplace(ctx context.Context, text string) {
	text = clip(text)
	if text == "" || text == t.lastText {
		return
	}
	if t.replyID == 0 {
		id, err := t.send(ctx, text)
		if err != nil {
			return
		}
		t.replyID = id
		t.lastText = text
		return
	}
	edit := tgbotapi.NewEditMessageText(t.chatID, t.replyID, text)
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("telegram edit failed", "message_id", t.replyID, "err", err)
		return
	}
	t.lastText = text
}

// send posts a new message with retry on rate limiting.
func (t *Telegram) send(ctx context.Context, text string) (int, error) {
	text = clip(text)
	if text == "" {
		return 0, fmt.Errorf("empty message")
	}
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
		if err == nil {
			return msg.MessageID, nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "Too Many Requests") && !strings.Contains(err.Error(), "429") {
			break
		}
		backoff := time.Duration(attempt+1) * 3 * time.Second
		t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	t.logger.Error("telegram send failed", "chat_id", t.chatID, "err", lastErr)
	return 0, lastErr
}

// clip keeps the tail of text within one Telegram message.
func clip(text string) string {
	if len(text) <= telegramMaxMsgLen {
		return text
	}
	cut := len(text) - telegramMaxMsgLen
	for cut < len(text) && !isRuneStart(text[cut]) {
		cut++
	}
	return "…" + text[cut:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
