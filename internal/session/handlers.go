package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/resilience"
	"github.com/ashureev/diplobot/internal/transport"
)

func (s *Session) onPhaseUpdate(ctx context.Context, ev transport.Event) {
	s.logger.Info("Phase update received", "phase", ev.Phase)
	st, err := resilience.Do(ctx, s.wrapper, "synchronize", s.game.Synchronize)
	if err != nil {
		if ctx.Err() != nil || !s.Running() {
			return
		}
		s.fail(fmt.Errorf("%w: synchronize after phase update: %w", domain.ErrSessionFatal, err))
		return
	}
	s.reconcile(ctx, st)
}

func (s *Session) onGameProcessed(ctx context.Context) {
	completed := s.phase
	s.logger.Info("Game processed, phase completed", "phase", completed)

	st, err := resilience.Do(ctx, s.wrapper, "synchronize", s.game.Synchronize)
	if err != nil {
		s.logger.Error("Synchronize after game processed failed", "error", err)
		s.ordersSubmitted = false
		s.ordersInFlight = false
		return
	}

	result := PhaseResult{
		GameID: s.game.GameID(),
		Power:  s.power,
		Phase:  completed,
		Orders: s.lastOrders,
		State:  st,
	}
	if err := s.analyst.AnalyzePhase(ctx, result); err != nil {
		s.logger.Warn("Phase analysis failed", "phase", completed, "error", err)
	}
	s.ordersSubmitted = false
	s.ordersInFlight = false
	s.reconcile(ctx, st)
}

func (s *Session) onMessageReceived(ctx context.Context, msg domain.Message) {
	msg.Sender = domain.NormalizePower(msg.Sender)
	msg.Recipient = domain.NormalizePower(msg.Recipient)
	if msg.Sender == s.power {
		// our own messages are recorded when sent
		return
	}
	s.history.Add(msg)
	if msg.IsBroadcast() {
		s.logger.Debug("Broadcast received", "sender", msg.Sender)
		return
	}
	if msg.Recipient != s.power {
		return
	}

	s.tracker.RecordInbound(msg.Sender)
	s.router.ObserveInbound(msg, s.negotiationRound)
	s.logger.Info("Message received",
		"sender", msg.Sender,
		"phase", msg.Phase,
		"priority", s.tracker.IsPriority(msg.Sender))
	s.considerResponse(ctx, msg)
}

func (s *Session) onStatusUpdate(status string) {
	s.logger.Info("Game status update", "status", status)
	s.gameState.Status = status
	if transport.IsTerminalStatus(status) {
		s.Stop()
	}
}

func (s *Session) onPowersControllers(controllers map[string]string) {
	for i, p := range s.gameState.Powers {
		if c, ok := controllers[domain.NormalizePower(p.Name)]; ok {
			s.gameState.Powers[i].Controller = c
		}
	}
	s.logger.Debug("Powers controllers updated", "controllers", controllers)
}

// reconcile applies a fresh server snapshot. A forward phase change runs
// the new-phase workflow; a stale phase is ignored except for a reset to
// the opening phase.
func (s *Session) reconcile(ctx context.Context, st transport.GameState) {
	s.gameState = st
	if st.Done() {
		s.Stop()
		return
	}
	if st.Phase == "" || st.Phase == s.phase {
		s.checkOrdersNeeded(ctx)
		return
	}
	if !s.supersedes(st.Phase) {
		// orders are only checked against a snapshot of our own phase
		s.logger.Warn("Ignoring stale phase", "current", s.phase, "received", st.Phase)
		return
	}
	s.startPhase(ctx, st.Phase)
}

// supersedes reports whether phase replaces the current one. Earlier
// phases are stale unless they are the opening phase.
func (s *Session) supersedes(phase domain.Phase) bool {
	if phase == "" || phase == s.phase {
		return false
	}
	return s.phase == "" || !phase.Before(s.phase) || phase == domain.OpeningPhase
}

func (s *Session) startPhase(ctx context.Context, phase domain.Phase) {
	s.logger.Info("Phase changed", "from", s.phase, "to", phase)
	s.phase = phase
	s.history.AddPhase(phase)
	s.router.StartPhase(phase)
	s.ordersSubmitted = false
	s.ordersInFlight = false
	s.negotiationRound = 0
	s.negotiationComplete = false
	s.lastOrders = nil
	s.possible = nil
	s.possiblePhase = ""
	s.progress = OrdersPending

	s.logger.Info("Communication statistics",
		"received", s.totalReceived(),
		"sent", s.totalSent(),
		"priority_contacts", s.tracker.PriorityRanking())

	if phase.IsMovement() && s.negotiate(ctx) {
		s.catchUp(ctx)
		return
	}
	s.checkOrdersNeeded(ctx)
}

// negotiate runs the phase negotiation. It reports whether the server moved
// to a later phase meanwhile, in which case nothing may be submitted for
// the negotiated phase.
func (s *Session) negotiate(ctx context.Context) (advanced bool) {
	if s.cfg.Lockstep {
		s.progress = NegotiationPending
		return false
	}
	s.progress = Negotiating
	s.publishStats()
	if out := s.coord.RunPhase(ctx, (*host)(s)); out.Advanced {
		return true
	}
	s.finishNegotiation()
	return false
}

// catchUp reconciles with the snapshot that showed the server ahead of the
// phase being negotiated.
func (s *Session) catchUp(ctx context.Context) {
	st := s.ahead
	s.ahead = nil
	if st == nil || !s.Running() {
		return
	}
	s.logger.Info("Server moved on during negotiation", "from", s.phase, "to", st.Phase)
	s.reconcile(ctx, *st)
}

func (s *Session) finishNegotiation() {
	s.negotiationComplete = true
	if s.progress == NegotiationPending || s.progress == Negotiating {
		s.progress = OrdersPending
	}
}

// poll re-synchronizes on the fallback timer. It returns a non-zero
// backoff when the next poll should be delayed.
func (s *Session) poll(ctx context.Context) time.Duration {
	st, err := resilience.Do(ctx, s.wrapper, "synchronize", s.game.Synchronize)
	switch {
	case err == nil:
		s.reconcile(ctx, st)
		return 0
	case errors.Is(err, domain.ErrCircuitOpen):
		s.logger.Warn("Circuit breaker open, backing off", "backoff", circuitOpenBackoff)
		return circuitOpenBackoff
	case errors.Is(err, domain.ErrTransportTimeout):
		s.logger.Warn("Synchronize timed out, backing off", "backoff", timeoutBackoff)
		return timeoutBackoff
	default:
		s.logger.Error("Error in main loop", "error", err)
		return 0
	}
}
