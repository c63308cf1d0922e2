package transport

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestEventQueue_DeliversInOrderWithoutBlockingPush(t *testing.T) {
	q := newEventQueue(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer q.Close()

	// nothing reads yet, so Push must not block
	for i := 0; i < 500; i++ {
		q.Push(Event{Kind: EventMessageReceived, Status: string(rune('a' + i%26))})
	}

	for i := 0; i < 500; i++ {
		select {
		case ev := <-q.out:
			if want := string(rune('a' + i%26)); ev.Status != want {
				t.Fatalf("event %d = %q, want %q", i, ev.Status, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestEventQueue_CloseClosesOutput(t *testing.T) {
	q := newEventQueue(slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.Push(Event{Kind: EventGameProcessed})
	q.Close()
	q.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-q.out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("output channel not closed")
		}
	}
}
