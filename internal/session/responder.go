package session

import (
	"context"
	"strings"

	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/resilience"
)

const longMessageWords = 15

var (
	greetings = map[string]bool{"hello": true, "hi": true, "greetings": true}

	strategicKeywords = []string{
		"alliance", "attack", "support", "propose", "deal", "cooperate",
		"work together", "coordinate", "threat", "help", "trust", "agree",
	}
)

// shouldRespond decides whether an inbound private message merits a reply.
func shouldRespond(body string, fromPriority bool) bool {
	if fromPriority {
		return true
	}
	lower := strings.ToLower(body)
	if strings.Contains(lower, "?") {
		return true
	}
	words := strings.Fields(lower)
	if len(words) > longMessageWords {
		return true
	}
	for _, w := range words {
		if greetings[strings.Trim(w, ".,!?;:'\"")] {
			return true
		}
	}
	for _, kw := range strategicKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// considerResponse replies to msg through the router when the heuristic
// says so. Failures are counted and logged.
func (s *Session) considerResponse(ctx context.Context, msg domain.Message) {
	if s.phase == "" || !shouldRespond(msg.Body, s.tracker.IsPriority(msg.Sender)) {
		return
	}

	var possible map[string][]string
	if s.phase.IsMovement() {
		locations, err := resilience.Do(ctx, s.wrapper, "get_orderable_locations", s.game.OrderableLocations)
		if err == nil {
			possible, err = s.possibleOrders(ctx, locations)
		}
		if err != nil {
			s.logger.Debug("Replying without possible orders", "error", err)
		}
	}

	active := domain.ActivePeers(s.gameState.Powers, s.power)
	req := decision.Request{
		GameID:         s.game.GameID(),
		Power:          s.power,
		Phase:          s.phase,
		Round:          s.negotiationRound,
		MaxRounds:      s.coord.MaxRounds(),
		Targets:        []string{msg.Sender},
		ActivePowers:   active,
		PossibleOrders: possible,
		Recent:         s.history.Recent(historySeedLimit),
		ReplyTo:        &msg,
	}
	proposals, err := resilience.Do(ctx, s.wrapper, "decide_reply", func(ctx context.Context) ([]decision.Proposal, error) {
		return s.decider.DecideMessages(ctx, req)
	})
	if err != nil {
		s.errStats.Record(s.decider.Model(), negotiation.ConversationErrors)
		s.logger.Error("Reply generation failed", "sender", msg.Sender, "error", err)
		return
	}

	for _, p := range proposals {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		p.Type = decision.MessagePrivate
		p.Recipient = msg.Sender
		rc := negotiation.RouteContext{
			Phase:  s.phase,
			Round:  s.negotiationRound,
			Active: active,
			Reply:  true,
		}
		d := s.router.Send(ctx, rc, p)
		s.logger.Info("Reply routed", "recipient", msg.Sender, "delivery", d)
		return
	}
}
