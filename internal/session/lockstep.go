package session

import (
	"context"
	"errors"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/negotiation"
)

// Pending describes a session waiting for an orchestrator to run its
// negotiation rounds.
type Pending struct {
	Table   negotiation.Table
	Pending bool
}

// exec runs fn on the loop goroutine and waits for it.
func (s *Session) exec(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	cmd := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}
	select {
	case s.commands <- cmd:
	case <-s.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitingNegotiation reports whether the session has entered a movement
// phase in lockstep mode and has not negotiated it yet. The returned table
// is freshly synchronized.
func (s *Session) AwaitingNegotiation(ctx context.Context) (Pending, error) {
	var (
		out Pending
		err error
	)
	execErr := s.exec(ctx, func(ctx context.Context) {
		if s.progress != NegotiationPending {
			return
		}
		out.Pending = true
		out.Table, err = s.table(ctx)
		if errors.Is(err, negotiation.ErrPhaseAdvanced) {
			out, err = Pending{}, nil
			s.catchUp(ctx)
		}
	})
	if execErr != nil {
		return Pending{}, execErr
	}
	return out, err
}

// PlayRound runs one orchestrated negotiation round. It is a no-op once
// the session has left t.Phase.
func (s *Session) PlayRound(ctx context.Context, t negotiation.Table, round int) (negotiation.RoundOutcome, error) {
	out := negotiation.RoundOutcome{Round: round}
	err := s.exec(ctx, func(ctx context.Context) {
		if s.phase != t.Phase || s.negotiationComplete {
			return
		}
		s.progress = Negotiating
		s.negotiationRound = round
		out = s.coord.PlayRound(ctx, t, round)
	})
	return out, err
}

// FinishNegotiation ends the orchestrated negotiation of phase and lets
// the session submit orders.
func (s *Session) FinishNegotiation(ctx context.Context, phase domain.Phase) error {
	return s.exec(ctx, func(ctx context.Context) {
		if s.phase != phase {
			return
		}
		s.finishNegotiation()
		s.checkOrdersNeeded(ctx)
	})
}

// MaxRounds returns the configured negotiation round count.
func (s *Session) MaxRounds() int { return s.coord.MaxRounds() }
