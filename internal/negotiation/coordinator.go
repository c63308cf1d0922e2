package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/diplobot/internal/contacts"
	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/resilience"
)

const recentContext = 50

// ErrPhaseAdvanced is returned by Host.Table when the server has moved past
// the phase being negotiated.
var ErrPhaseAdvanced = errors.New("phase advanced")

// Table is the slice of game state a negotiation round needs. PossibleOrders
// is keyed by this power's orderable locations.
type Table struct {
	Phase          domain.Phase
	Eliminated     bool
	PossibleOrders map[string][]string
	Active         []string
}

// ShouldParticipate reports whether the power negotiates this phase.
func ShouldParticipate(t Table) bool {
	return !t.Eliminated && len(t.PossibleOrders) > 0 && t.Phase.IsMovement()
}

// Host is the session side of a negotiation: it supplies fresh state and
// owns the round counter and the inter-round wait.
type Host interface {
	Table(ctx context.Context) (Table, error)
	Running() bool
	SetRound(round int)
	// Pause waits d while the session keeps processing inbound messages.
	Pause(ctx context.Context, d time.Duration) error
}

// Config bounds a phase negotiation.
type Config struct {
	MaxRounds int
	BaseDelay time.Duration
}

// RoundOutcome reports one round. Err is set only when the decider failed;
// Sent == 0 with a nil Err is an ordinary quiet round.
type RoundOutcome struct {
	Round    int
	Targets  []string
	Proposed int
	Sent     int
	Err      error
}

// PhaseOutcome summarizes RunPhase. Advanced is set when the server moved
// to another phase before negotiation finished; the caller must resync
// rather than act on the negotiated phase.
type PhaseOutcome struct {
	Phase        domain.Phase
	Participated bool
	Advanced     bool
	Rounds       int
	Sent         int
}

// CoordinatorDeps wires a Coordinator.
type CoordinatorDeps struct {
	Power   string
	GameID  string
	Config  Config
	Decider decision.Decider
	Wrapper *resilience.Wrapper
	Router  *Router
	Tracker *contacts.Tracker
	History *domain.History
	Stats   *ErrorStats
	Logger  *slog.Logger
}

// Coordinator runs bounded negotiation rounds for one session.
type Coordinator struct {
	power   string
	gameID  string
	cfg     Config
	decider decision.Decider
	wrapper *resilience.Wrapper
	router  *Router
	tracker *contacts.Tracker
	history *domain.History
	stats   *ErrorStats
	logger  *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(d CoordinatorDeps) *Coordinator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := d.Stats
	if stats == nil {
		stats = NewErrorStats()
	}
	if d.Config.MaxRounds < 1 {
		d.Config.MaxRounds = 1
	}
	return &Coordinator{
		power:   domain.NormalizePower(d.Power),
		gameID:  d.GameID,
		cfg:     d.Config,
		decider: d.Decider,
		wrapper: d.Wrapper,
		router:  d.Router,
		tracker: d.Tracker,
		history: d.History,
		stats:   stats,
		logger:  logger,
	}
}

// MaxRounds returns the configured round count.
func (c *Coordinator) MaxRounds() int {
	return c.cfg.MaxRounds
}

// RoundDelay is the pause after round: longer after the opening round,
// shorter before the final one. The opening round wins when both apply.
func RoundDelay(base time.Duration, round, maxRounds int) time.Duration {
	switch {
	case round == 1:
		return base * 3 / 2
	case round == maxRounds-1:
		return base / 2
	default:
		return base
	}
}

// RunPhase negotiates for the current movement phase. It stops early when
// the host stops running, the context ends, or the phase moves on.
func (c *Coordinator) RunPhase(ctx context.Context, host Host) PhaseOutcome {
	table, err := host.Table(ctx)
	if errors.Is(err, ErrPhaseAdvanced) {
		c.logger.Info("Phase advanced before negotiation started")
		return PhaseOutcome{Advanced: true}
	}
	if err != nil {
		c.logger.Warn("Could not load game state for negotiation", "error", err)
		return PhaseOutcome{}
	}
	outcome := PhaseOutcome{Phase: table.Phase}
	if !ShouldParticipate(table) {
		c.logger.Info("Not participating in negotiations this phase", "phase", table.Phase)
		return outcome
	}
	outcome.Participated = true
	c.logger.Info("Starting negotiation phase", "phase", table.Phase, "rounds", c.cfg.MaxRounds)

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		if !host.Running() || ctx.Err() != nil {
			break
		}
		if round > 1 {
			table, err = host.Table(ctx)
			if err == nil && table.Phase != outcome.Phase {
				err = ErrPhaseAdvanced
			}
			if errors.Is(err, ErrPhaseAdvanced) {
				c.logger.Info("Phase advanced during negotiation, ending early", "phase", outcome.Phase, "round", round)
				outcome.Advanced = true
				break
			}
			if err != nil {
				c.logger.Warn("Could not refresh game state, ending negotiation", "round", round, "error", err)
				break
			}
		}

		host.SetRound(round)
		res := c.PlayRound(ctx, table, round)
		outcome.Rounds = round
		outcome.Sent += res.Sent
		if res.Sent == 0 {
			c.logger.Info("No messages sent this round", "round", round, "phase", table.Phase)
		}

		if round < c.cfg.MaxRounds {
			delay := RoundDelay(c.cfg.BaseDelay, round, c.cfg.MaxRounds)
			c.logger.Debug("Waiting before next negotiation round", "delay", delay)
			if err := host.Pause(ctx, delay); err != nil {
				break
			}
		}
	}

	c.logger.Info("Negotiation phase complete",
		"phase", outcome.Phase,
		"rounds", outcome.Rounds,
		"sent", outcome.Sent)
	return outcome
}

// PlayRound asks the decider for messages addressed to this round's targets
// and routes each one. Decider failures are counted and reported in the
// outcome, never raised.
func (c *Coordinator) PlayRound(ctx context.Context, t Table, round int) RoundOutcome {
	targets := c.tracker.Targets(round, t.Active)
	out := RoundOutcome{Round: round, Targets: targets}
	c.logger.Info("Negotiation round",
		"round", round,
		"max_rounds", c.cfg.MaxRounds,
		"targets", targets)

	req := decision.Request{
		GameID:         c.gameID,
		Power:          c.power,
		Phase:          t.Phase,
		Round:          round,
		MaxRounds:      c.cfg.MaxRounds,
		Targets:        targets,
		ActivePowers:   t.Active,
		PossibleOrders: t.PossibleOrders,
		Recent:         c.history.Recent(recentContext),
	}
	proposals, err := resilience.Do(ctx, c.wrapper, "decide_messages", func(ctx context.Context) ([]decision.Proposal, error) {
		return c.decider.DecideMessages(ctx, req)
	})
	if err != nil {
		c.stats.Record(c.decider.Model(), ConversationErrors)
		c.logger.Error("Message generation failed", "round", round, "model", c.decider.Model(), "error", err)
		out.Err = err
		return out
	}

	out.Proposed = len(proposals)
	rc := RouteContext{Phase: t.Phase, Round: round, Active: t.Active}
	for _, p := range proposals {
		if c.router.Send(ctx, rc, p).Sent() {
			out.Sent++
		}
	}
	c.logger.Info("Round messages sent", "round", round, "sent", out.Sent, "proposed", out.Proposed)
	return out
}
