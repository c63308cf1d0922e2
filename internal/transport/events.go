package transport

import (
	"log/slog"
	"sync"
	"time"
)

// eventQueue decouples the websocket read loop from the session consuming
// events. Push never blocks, so responses keep flowing while the session is
// busy inside a request.
type eventQueue struct {
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newEventQueue(logger *slog.Logger) *eventQueue {
	q := &eventQueue{
		out:    make(chan Event),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		logger: logger,
	}
	q.wg.Add(1)
	go q.deliver()
	return q
}

// Push queues ev for delivery.
func (q *eventQueue) Push(ev Event) {
	q.mu.Lock()
	q.queue = append(q.queue, ev)
	depth := len(q.queue)
	q.mu.Unlock()

	if depth > 256 && depth%256 == 1 {
		q.logger.Warn("Event queue growing, session is falling behind", "queue_len", depth)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) deliver() {
	defer q.wg.Done()
	defer close(q.out)

	for {
		q.mu.Lock()
		var next *Event
		if len(q.queue) > 0 {
			ev := q.queue[0]
			q.queue = q.queue[1:]
			next = &ev
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.signal:
				continue
			case <-q.stop:
				return
			}
		}

		select {
		case q.out <- *next:
		case <-q.stop:
			return
		}
	}
}

// Close stops delivery, drops undelivered events and closes the output
// channel.
func (q *eventQueue) Close() {
	q.once.Do(func() {
		close(q.stop)

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			q.logger.Warn("Event queue shutdown timeout")
		}

		q.mu.Lock()
		if dropped := len(q.queue); dropped > 0 {
			q.logger.Debug("Dropped undelivered events", "count", dropped)
		}
		q.queue = nil
		q.mu.Unlock()
	})
}
