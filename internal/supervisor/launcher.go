package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ashureev/diplobot/internal/config"
	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/resilience"
	"github.com/ashureev/diplobot/internal/session"
	"github.com/ashureev/diplobot/internal/transport"
	"golang.org/x/sync/errgroup"
)

// DialFunc opens an authenticated game connection.
type DialFunc func(ctx context.Context, cfg transport.DialConfig) (transport.Game, error)

// DeciderFunc builds the decider for one power. The returned close func
// may be nil.
type DeciderFunc func(power, model string) (decision.Decider, func(), error)

// LauncherDeps wires a Launcher. Dial, NewDecider, Journal, Registry and
// Logger are optional.
type LauncherDeps struct {
	Config     *config.Config
	Roster     config.Roster
	Journal    journal.Journal
	Registry   *Registry
	Dial       DialFunc
	NewDecider DeciderFunc
	Logger     *slog.Logger
}

// Launcher starts one session per roster power and waits for all of them.
type Launcher struct {
	cfg        *config.Config
	roster     config.Roster
	journal    journal.Journal
	registry   *Registry
	dial       DialFunc
	newDecider DeciderFunc
	logger     *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// NewLauncher creates a Launcher.
func NewLauncher(d LauncherDeps) *Launcher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Launcher{
		cfg:        d.Config,
		roster:     d.Roster,
		journal:    d.Journal,
		registry:   d.Registry,
		dial:       d.Dial,
		newDecider: d.NewDecider,
		logger:     logger,
	}
	if l.registry == nil {
		l.registry = NewRegistry(logger)
	}
	if l.dial == nil {
		l.dial = DialGame
	}
	if l.newDecider == nil {
		l.newDecider = l.defaultDecider
	}
	return l
}

// Registry returns the registry the launcher registers sessions in.
func (l *Launcher) Registry() *Registry { return l.registry }

// DialGame dials the game server with transport.Dial.
func DialGame(ctx context.Context, cfg transport.DialConfig) (transport.Game, error) {
	c, err := transport.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Run connects every roster power, runs their sessions and returns when
// all of them have ended. When no game id is configured the creator power
// connects first and creates the game the others then join.
func (l *Launcher) Run(ctx context.Context) error {
	defer l.closeDeciders()

	gameID := l.roster.GameID
	if gameID == "" {
		gameID = l.cfg.GameID
	}
	powers := l.roster.Powers
	if gameID == "" {
		powers = creatorFirst(powers, l.roster.CreatorPower)
	}

	var (
		g       errgroup.Group
		started []*session.Session
	)
	for i, power := range powers {
		if i > 0 && l.roster.StaggerDelay > 0 {
			if err := resilience.Sleep(ctx, l.roster.StaggerDelay); err != nil {
				break
			}
		}

		s, id, err := l.start(ctx, power, gameID)
		if err != nil {
			if gameID == "" {
				l.registry.StopAll()
				_ = g.Wait()
				return fmt.Errorf("create game as %s: %w", power, err)
			}
			l.logger.Error("Failed to start session", "power", power, "error", err)
			continue
		}
		if gameID == "" {
			gameID = id
			l.logger.Info("Game created", "game_id", gameID, "creator", power)
		}

		l.registry.Register(s)
		started = append(started, s)
		g.Go(func() error {
			defer l.registry.Unregister(s)
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("session %s: %w", power, err)
			}
			return nil
		})
	}

	if len(started) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("no session could be started")
	}

	if l.roster.Lockstep {
		members := make([]Negotiator, 0, len(started))
		for _, s := range started {
			members = append(members, s)
		}
		ls := NewLockstep(members, LockstepConfig{
			MaxRounds: l.cfg.Negotiation.Rounds,
			BaseDelay: l.cfg.Negotiation.Delay,
		}, l.logger.With("component", "lockstep"))
		g.Go(func() error { return ls.Run(ctx) })
	}

	l.logger.Info("All sessions launched", "game_id", gameID, "sessions", len(started), "lockstep", l.roster.Lockstep)
	return g.Wait()
}

// start connects power and builds its session. Every session gets its own
// wrapper and so its own circuit breaker.
func (l *Launcher) start(ctx context.Context, power, gameID string) (*session.Session, string, error) {
	logger := l.logger.With("power", power)
	wrapper := resilience.New(resilience.Policy{
		Timeout:    l.cfg.Resilience.ConnectionTimeout,
		MaxRetries: l.cfg.Resilience.MaxRetries,
		BaseDelay:  l.cfg.Resilience.RetryDelay,
	}, resilience.WithLogger(logger))

	dc := transport.DialConfig{
		Host:     l.cfg.Server.Host,
		Port:     l.cfg.Server.Port,
		Username: l.cfg.UsernameFor(power),
		Password: l.cfg.Server.Password,
		Power:    power,
		GameID:   gameID,
		Logger:   l.logger,
	}
	game, err := resilience.Do(ctx, wrapper, "connect", func(ctx context.Context) (transport.Game, error) {
		return l.dial(ctx, dc)
	})
	if err != nil {
		return nil, "", err
	}

	model := l.roster.ModelFor(power, l.cfg.Decision.Model)
	decider, closeFn, err := l.newDecider(power, model)
	if err != nil {
		_ = game.Close()
		return nil, "", fmt.Errorf("decider for %s: %w", power, err)
	}
	if closeFn != nil {
		l.mu.Lock()
		l.closers = append(l.closers, closeFn)
		l.mu.Unlock()
	}

	s := session.New(session.Config{
		Power:             power,
		NegotiationRounds: l.cfg.Negotiation.Rounds,
		NegotiationDelay:  l.cfg.Negotiation.Delay,
		PollInterval:      l.cfg.Resilience.PollInterval,
		Lockstep:          l.roster.Lockstep,
	}, session.Deps{
		Game:    game,
		Decider: decider,
		Wrapper: wrapper,
		Journal: l.journal,
		Logger:  l.logger,
	})
	return s, game.GameID(), nil
}

// defaultDecider dials the decision service when one is configured and
// falls back to the built-in decider otherwise.
func (l *Launcher) defaultDecider(power, model string) (decision.Decider, func(), error) {
	if l.cfg.Decision.Addr == "" {
		return decision.Fallback{}, nil, nil
	}
	gc := decision.DefaultGrpcClientConfig()
	gc.Address = l.cfg.Decision.Addr
	gc.Model = model
	if l.cfg.Resilience.ConnectionTimeout > 0 {
		gc.ConnectTimeout = l.cfg.Resilience.ConnectionTimeout
	}
	client, err := decision.NewGrpcClient(gc, l.logger.With("power", power))
	if err != nil {
		l.logger.Warn("Decision service unavailable, using fallback decider", "power", power, "error", err)
		return decision.Fallback{}, nil, nil
	}
	return client, client.Close, nil
}

func (l *Launcher) closeDeciders() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.closers {
		c()
	}
	l.closers = nil
}

// creatorFirst moves creator to the front of powers.
func creatorFirst(powers []string, creator string) []string {
	creator = domain.NormalizePower(creator)
	i := slices.Index(powers, creator)
	if i <= 0 {
		return powers
	}
	out := make([]string, 0, len(powers))
	out = append(out, creator)
	out = append(out, powers[:i]...)
	return append(out, powers[i+1:]...)
}
