package bus

import (
	"errors"
	"testing"

	"screenrelay/internal/domain"
)

func cmd(id string) domain.SendCommand {
	return domain.SendCommand{ID: id, Conversation: "default", Message: "msg " + id}
}

func TestSendQueue_RejectWhenFull(t *testing.T) {
	q := NewSendQueue(QueueConfig{Size: 1, Overflow: OverflowReject, Logger: testLogger()})

	if err := q.Publish(cmd("1")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := q.Publish(cmd("2"))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	got := <-q.Subscribe()
	if got.ID != "1" {
		t.Fatalf("expected the first send to be kept, got %s", got.ID)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestSendQueue_DropOldest(t *testing.T) {
	var dropped []string
	q := NewSendQueue(QueueConfig{
		Size:     2,
		Overflow: OverflowDropOldest,
		OnDrop:   func(c domain.SendCommand) { dropped = append(dropped, c.ID) },
		Logger:   testLogger(),
	})

	for _, id := range []string{"1", "2", "3", "4"} {
		if err := q.Publish(cmd(id)); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	if len(dropped) != 2 || dropped[0] != "1" || dropped[1] != "2" {
		t.Fatalf("expected 1 and 2 dropped, got %v", dropped)
	}
	if a, b := (<-q.Subscribe()).ID, (<-q.Subscribe()).ID; a != "3" || b != "4" {
		t.Fatalf("expected 3 then 4, got %s then %s", a, b)
	}
}

func TestSendQueue_FIFO(t *testing.T) {
	q := NewSendQueue(QueueConfig{Size: 3, Logger: testLogger()})
	for _, id := range []string{"a", "b", "c"} {
		q.Publish(cmd(id))
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := (<-q.Subscribe()).ID; got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestSendQueue_Close(t *testing.T) {
	q := NewSendQueue(QueueConfig{Logger: testLogger()})
	q.Publish(cmd("1"))
	q.Close()
	q.Close()

	if err := q.Publish(cmd("2")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	// Waiting sends still drain after Close.
	if c, ok := <-q.Subscribe(); !ok || c.ID != "1" {
		t.Fatalf("expected buffered send, got %+v ok=%v", c, ok)
	}
	if _, ok := <-q.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestSendQueue_Defaults(t *testing.T) {
	q := NewSendQueue(QueueConfig{})
	if cap(q.sends) != 1 || q.overflow != OverflowReject {
		t.Fatalf("unexpected defaults: cap=%d overflow=%s", cap(q.sends), q.overflow)
	}
}
