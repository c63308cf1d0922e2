package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/transport"
)

// host exposes the session to the coordinator without widening Session's
// exported API.
type host Session

var _ negotiation.Host = (*host)(nil)

func (h *host) Table(ctx context.Context) (negotiation.Table, error) {
	return (*Session)(h).table(ctx)
}

func (h *host) Running() bool { return (*Session)(h).Running() }

func (h *host) SetRound(round int) {
	h.negotiationRound = round
	(*Session)(h).publishStats()
}

func (h *host) Pause(ctx context.Context, d time.Duration) error {
	return (*Session)(h).pause(ctx, d)
}

// pause waits d on the loop goroutine. Inbound messages and status
// changes are applied immediately; other events are deferred until the
// loop regains control.
func (s *Session) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return ErrStopped
		case ev, ok := <-s.game.Events():
			if !ok {
				s.eventsClosed = true
				err := fmt.Errorf("%w: game server connection lost", domain.ErrTransportConnection)
				s.fail(err)
				return err
			}
			switch {
			case ev.Kind == transport.EventMessageReceived && ev.Message != nil:
				s.onMessageReceived(ctx, *ev.Message)
				s.publishStats()
			case ev.Kind == transport.EventStatusUpdate:
				s.onStatusUpdate(ev.Status)
			default:
				s.deferred = append(s.deferred, ev)
			}
		}
	}
}
