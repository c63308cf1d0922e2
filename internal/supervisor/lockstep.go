package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/resilience"
	"github.com/ashureev/diplobot/internal/session"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLockstepPoll   = time.Second
	defaultLockstepSettle = 30 * time.Second
)

// Negotiator is a session whose negotiation rounds are driven externally.
type Negotiator interface {
	Power() string
	AwaitingNegotiation(ctx context.Context) (session.Pending, error)
	PlayRound(ctx context.Context, t negotiation.Table, round int) (negotiation.RoundOutcome, error)
	FinishNegotiation(ctx context.Context, phase domain.Phase) error
	Done() <-chan struct{}
}

var _ Negotiator = (*session.Session)(nil)

// LockstepConfig tunes the orchestrator.
type LockstepConfig struct {
	MaxRounds int
	BaseDelay time.Duration
	// Poll is how often pending sessions are collected.
	Poll time.Duration
	// Settle is how long to wait for every live session to reach the
	// newest phase before negotiating with those that have.
	Settle time.Duration
}

// Lockstep runs every session's negotiation round r concurrently and
// joins them all before starting round r+1.
type Lockstep struct {
	members []Negotiator
	cfg     LockstepConfig
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewLockstep creates an orchestrator over members.
func NewLockstep(members []Negotiator, cfg LockstepConfig, logger *slog.Logger) *Lockstep {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = defaultLockstepPoll
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultLockstepSettle
	}
	return &Lockstep{
		members: members,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   resilience.Sleep,
	}
}

type pendingMember struct {
	member Negotiator
	table  negotiation.Table
}

// Run orchestrates phases until every member has finished or ctx is done.
func (l *Lockstep) Run(ctx context.Context) error {
	var (
		waitingPhase domain.Phase
		waitingSince time.Time
	)
	for {
		live := l.live()
		if len(live) == 0 {
			l.logger.Info("All lockstep sessions finished")
			return nil
		}

		phase, ready := l.collect(ctx, live)
		if len(ready) > 0 {
			if phase != waitingPhase {
				waitingPhase, waitingSince = phase, l.now()
			}
			if len(ready) == len(live) || l.now().Sub(waitingSince) >= l.cfg.Settle {
				if len(ready) < len(live) {
					l.logger.Warn("Negotiating without stragglers",
						"phase", phase, "ready", len(ready), "live", len(live))
				}
				l.runPhase(ctx, phase, ready)
				waitingPhase = ""
				continue
			}
		}

		if err := l.sleep(ctx, l.cfg.Poll); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (l *Lockstep) live() []Negotiator {
	out := make([]Negotiator, 0, len(l.members))
	for _, m := range l.members {
		select {
		case <-m.Done():
		default:
			out = append(out, m)
		}
	}
	return out
}

// collect returns the newest pending phase and the members waiting in it.
func (l *Lockstep) collect(ctx context.Context, live []Negotiator) (domain.Phase, []pendingMember) {
	var pending []pendingMember
	var newest domain.Phase
	for _, m := range live {
		p, err := m.AwaitingNegotiation(ctx)
		if err != nil {
			if !errors.Is(err, session.ErrStopped) && ctx.Err() == nil {
				l.logger.Warn("Could not query session", "power", m.Power(), "error", err)
			}
			continue
		}
		if !p.Pending {
			continue
		}
		pending = append(pending, pendingMember{member: m, table: p.Table})
		if newest == "" || newest.Before(p.Table.Phase) {
			newest = p.Table.Phase
		}
	}

	ready := pending[:0]
	for _, p := range pending {
		if p.table.Phase == newest {
			ready = append(ready, p)
		}
	}
	return newest, ready
}

func (l *Lockstep) runPhase(ctx context.Context, phase domain.Phase, ready []pendingMember) {
	var participants []pendingMember
	for _, p := range ready {
		if negotiation.ShouldParticipate(p.table) {
			participants = append(participants, p)
		}
	}
	l.logger.Info("Starting lockstep negotiation",
		"phase", phase,
		"participants", len(participants),
		"rounds", l.cfg.MaxRounds)

	for round := 1; round <= l.cfg.MaxRounds && len(participants) > 0; round++ {
		if ctx.Err() != nil {
			break
		}
		var g errgroup.Group
		for _, p := range participants {
			g.Go(func() error {
				out, err := p.member.PlayRound(ctx, p.table, round)
				if err != nil {
					if !errors.Is(err, session.ErrStopped) {
						l.logger.Warn("Lockstep round failed", "power", p.member.Power(), "round", round, "error", err)
					}
					return nil
				}
				l.logger.Debug("Lockstep round done",
					"power", p.member.Power(),
					"round", round,
					"sent", out.Sent)
				return nil
			})
		}
		_ = g.Wait()

		if round < l.cfg.MaxRounds {
			if err := l.sleep(ctx, negotiation.RoundDelay(l.cfg.BaseDelay, round, l.cfg.MaxRounds)); err != nil {
				break
			}
		}
	}

	var g errgroup.Group
	for _, p := range ready {
		g.Go(func() error {
			if err := p.member.FinishNegotiation(ctx, phase); err != nil && !errors.Is(err, session.ErrStopped) {
				l.logger.Warn("Could not finish negotiation", "power", p.member.Power(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	l.logger.Info("Lockstep negotiation complete", "phase", phase)
}
