package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/resilience"
)

// checkOrdersNeeded submits orders once per phase. In movement phases it
// waits until negotiation has finished.
func (s *Session) checkOrdersNeeded(ctx context.Context) {
	if s.ordersSubmitted || s.ordersInFlight || s.phase == "" || s.gameState.Done() {
		return
	}
	if s.phase.IsMovement() && !s.negotiationComplete {
		return
	}

	s.ordersInFlight = true
	defer func() { s.ordersInFlight = false }()

	locations, err := resilience.Do(ctx, s.wrapper, "get_orderable_locations", s.game.OrderableLocations)
	if err != nil {
		s.logger.Warn("Could not fetch orderable locations", "phase", s.phase, "error", err)
		return
	}
	if len(locations) == 0 {
		s.logger.Info("No orderable locations, submitting empty orders", "phase", s.phase)
		s.submit(ctx, nil)
		return
	}

	possible, err := s.possibleOrders(ctx, locations)
	if err != nil {
		s.logger.Warn("Could not fetch possible orders", "phase", s.phase, "error", err)
		return
	}

	req := decision.Request{
		GameID:         s.game.GameID(),
		Power:          s.power,
		Phase:          s.phase,
		ActivePowers:   domain.ActivePeers(s.gameState.Powers, s.power),
		PossibleOrders: possible,
		Recent:         s.history.Recent(historySeedLimit),
	}
	orders, err := resilience.Do(ctx, s.wrapper, "decide_orders", func(ctx context.Context) ([]string, error) {
		return s.decider.DecideOrders(ctx, req)
	})
	if err != nil {
		s.errStats.Record(s.decider.Model(), negotiation.OrderDecodingErrors)
		s.logger.Error("Order generation failed, submitting empty orders",
			"phase", s.phase, "model", s.decider.Model(), "error", err)
		orders = nil
	}

	kept, dropped := decision.FilterLegal(orders, possible)
	if len(dropped) > 0 {
		s.logger.Warn("Dropped illegal orders", "phase", s.phase, "dropped", dropped)
	}
	s.submit(ctx, kept)
}

// submit sends orders and marks the phase as handled even when the
// server call fails, so a broken phase is not resubmitted in a loop.
func (s *Session) submit(ctx context.Context, orders []string) {
	if orders == nil {
		orders = []string{}
	}
	err := s.wrapper.Run(ctx, "set_orders", func(ctx context.Context) error {
		return s.game.SetOrders(ctx, orders)
	})
	s.ordersSubmitted = true
	s.progress = OrdersSubmitted
	s.lastOrders = orders
	if err != nil {
		s.logger.Error("Failed to submit orders", "phase", s.phase, "error", err)
		return
	}
	s.logger.Info("Orders submitted", "phase", s.phase, "count", len(orders), "orders", orders)

	text := "No orders."
	if len(orders) > 0 {
		text = "Orders: " + strings.Join(orders, ", ")
	}
	if err := s.journal.Append(ctx, journal.Entry{
		GameID: s.game.GameID(),
		Power:  s.power,
		Phase:  string(s.phase),
		Kind:   journal.KindOrders,
		Text:   text,
	}); err != nil {
		s.logger.Warn("Failed to journal orders", "error", err)
	}

	if err := s.wrapper.Run(ctx, "set_wait_flag", func(ctx context.Context) error {
		return s.game.SetWait(ctx, false)
	}); err != nil {
		s.logger.Warn("Failed to clear wait flag", "error", err)
	}
}

// possibleOrders returns the legal orders for locations, cached per phase.
func (s *Session) possibleOrders(ctx context.Context, locations []string) (map[string][]string, error) {
	if s.possiblePhase != s.phase || s.possible == nil {
		all, err := resilience.Do(ctx, s.wrapper, "get_all_possible_orders", s.game.AllPossibleOrders)
		if err != nil {
			return nil, err
		}
		s.possible = all
		s.possiblePhase = s.phase
	}
	out := make(map[string][]string, len(locations))
	for _, loc := range locations {
		if orders := s.possible[loc]; len(orders) > 0 {
			out[loc] = orders
		}
	}
	return out, nil
}

// table builds the negotiation view from a fresh synchronize.
func (s *Session) table(ctx context.Context) (negotiation.Table, error) {
	st, err := resilience.Do(ctx, s.wrapper, "synchronize", s.game.Synchronize)
	if err != nil {
		return negotiation.Table{}, err
	}
	if st.Phase != s.phase {
		if s.supersedes(st.Phase) {
			s.ahead = &st
			return negotiation.Table{}, negotiation.ErrPhaseAdvanced
		}
		return negotiation.Table{}, fmt.Errorf("stale snapshot in %s while in %s", st.Phase, s.phase)
	}
	s.gameState = st

	t := negotiation.Table{
		Phase:  st.Phase,
		Active: domain.ActivePeers(st.Powers, s.power),
	}
	if me, ok := domain.FindPower(st.Powers, s.power); ok {
		t.Eliminated = me.Eliminated
	}
	if t.Eliminated {
		return t, nil
	}
	locations, err := resilience.Do(ctx, s.wrapper, "get_orderable_locations", s.game.OrderableLocations)
	if err != nil {
		return negotiation.Table{}, err
	}
	if t.PossibleOrders, err = s.possibleOrders(ctx, locations); err != nil {
		return negotiation.Table{}, err
	}
	return t, nil
}
