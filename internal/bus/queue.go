package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"screenrelay/internal/domain"
)

// Overflow decides what happens when a send arrives at a full queue.
type Overflow string

const (
	OverflowReject     Overflow = "reject"
	OverflowDropOldest Overflow = "drop-oldest"
)

var ErrQueueClosed = errors.New("send queue closed")

// SendQueue is the bounded, single-consumer queue of sends for one
// conversation. Capacity counts waiting sends only; the one being processed
// has already left the queue.
type SendQueue struct {
	sends    chan domain.SendCommand
	overflow Overflow
	onDrop   func(domain.SendCommand)
	mu       sync.Mutex
	closed   bool
	logger   *slog.Logger
}

type QueueConfig struct {
	Size     int
	Overflow Overflow
	OnDrop   func(domain.SendCommand) // called for sends evicted by drop-oldest
	Logger   *slog.Logger
}

// NewSendQueue creates a queue; size defaults to 1 and overflow to reject.
func NewSendQueue(cfg QueueConfig) *SendQueue {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowReject
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SendQueue{
		sends:    make(chan domain.SendCommand, cfg.Size),
		overflow: cfg.Overflow,
		onDrop:   cfg.OnDrop,
		logger:   cfg.Logger,
	}
}

// Publish enqueues cmd without blocking. Under the reject policy a full
// queue refuses cmd with domain.ErrQueueFull; under drop-oldest the oldest
// waiting send is evicted to make room.
func (q *SendQueue) Publish(cmd domain.SendCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for {
		select {
		case q.sends <- cmd:
			return nil
		default:
		}

		if q.overflow != OverflowDropOldest {
			q.logger.Warn("send rejected: queue full", "conversation", cmd.Conversation, "send", cmd.ID)
			return fmt.Errorf("%w: conversation %s has %d waiting", domain.ErrQueueFull, cmd.Conversation, cap(q.sends))
		}

		// The consumer may win the race for the oldest entry; then the
		// next push attempt succeeds.
		select {
		case old := <-q.sends:
			q.logger.Warn("send dropped: queue full", "conversation", old.Conversation, "send", old.ID)
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
		}
	}
}

// Subscribe returns the receive side for the single consumer.
func (q *SendQueue) Subscribe() <-chan domain.SendCommand {
	return q.sends
}

// Len returns the number of waiting sends.
func (q *SendQueue) Len() int {
	return len(q.sends)
}

func (q *SendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.sends)
	}
}
