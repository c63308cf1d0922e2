// Package session runs one bot in one game: it consumes server push events
// on a single goroutine, drives the phase state machine, negotiates in
// movement phases and submits orders.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/diplobot/internal/contacts"
	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/resilience"
	"github.com/ashureev/diplobot/internal/transport"
)

const (
	cleanupBudget      = 15 * time.Second
	cleanupTaskTimeout = 10 * time.Second
	circuitOpenBackoff = 30 * time.Second
	timeoutBackoff     = 10 * time.Second
	historySeedLimit   = 50
)

// ErrStopped is returned by calls made after the session loop has exited.
var ErrStopped = errors.New("session stopped")

// State is the coarse connection lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// Progress tracks where the session is within the current phase.
type Progress string

const (
	AwaitingPhase      Progress = "awaiting_phase"
	NegotiationPending Progress = "negotiation_pending"
	Negotiating        Progress = "negotiating"
	OrdersPending      Progress = "orders_pending"
	OrdersSubmitted    Progress = "orders_submitted"
)

// Config is the per-session configuration.
type Config struct {
	Power             string
	NegotiationRounds int
	NegotiationDelay  time.Duration
	PollInterval      time.Duration
	// Lockstep hands negotiation rounds to an external orchestrator.
	Lockstep bool
}

// Deps are the collaborators a session owns. Only Game is required.
type Deps struct {
	Game    transport.Game
	Decider decision.Decider
	Wrapper *resilience.Wrapper
	Journal journal.Journal
	Analyst Analyst
	Logger  *slog.Logger
}

// Session is one bot playing one power. Fields after the loop-owned marker
// are touched only by the goroutine running Run.
type Session struct {
	cfg      Config
	power    string
	game     transport.Game
	decider  decision.Decider
	wrapper  *resilience.Wrapper
	journal  journal.Journal
	analyst  Analyst
	logger   *slog.Logger
	tracker  *contacts.Tracker
	history  *domain.History
	router   *negotiation.Router
	coord    *negotiation.Coordinator
	errStats *negotiation.ErrorStats

	commands chan func(context.Context)
	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	running  atomic.Bool
	stats    atomic.Pointer[Stats]

	// loop-owned
	state               State
	progress            Progress
	phase               domain.Phase
	gameState           transport.GameState
	ahead               *transport.GameState
	ordersSubmitted     bool
	ordersInFlight      bool
	negotiationRound    int
	negotiationComplete bool
	lastOrders          []string
	possiblePhase       domain.Phase
	possible            map[string][]string
	deferred            []transport.Event
	eventsClosed        bool
	err                 error
}

// New wires a session around an already connected game.
func New(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	power := domain.NormalizePower(cfg.Power)
	if power == "" {
		power = domain.NormalizePower(deps.Game.Power())
	}
	logger = logger.With("power", power)

	j := deps.Journal
	if j == nil {
		j = journal.Nop{}
	}
	analyst := deps.Analyst
	if analyst == nil {
		analyst = JournalAnalyst{Journal: j}
	}
	decider := deps.Decider
	if decider == nil {
		decider = decision.Fallback{}
	}
	wrapper := deps.Wrapper
	if wrapper == nil {
		wrapper = resilience.New(resilience.DefaultPolicy(), resilience.WithLogger(logger))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	s := &Session{
		cfg:      cfg,
		power:    power,
		game:     deps.Game,
		decider:  decider,
		wrapper:  wrapper,
		journal:  j,
		analyst:  analyst,
		logger:   logger,
		tracker:  contacts.NewTracker(power),
		history:  domain.NewHistory(),
		errStats: negotiation.NewErrorStats(),
		commands: make(chan func(context.Context)),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
		state:    StateConnecting,
		progress: AwaitingPhase,
	}
	s.router = negotiation.NewRouter(negotiation.RouterDeps{
		Power:     power,
		GameID:    deps.Game.GameID(),
		Transport: deps.Game,
		Wrapper:   wrapper,
		History:   s.history,
		Tracker:   s.tracker,
		Journal:   j,
		Logger:    logger,
	})
	s.coord = negotiation.NewCoordinator(negotiation.CoordinatorDeps{
		Power:  power,
		GameID: deps.Game.GameID(),
		Config: negotiation.Config{
			MaxRounds: cfg.NegotiationRounds,
			BaseDelay: cfg.NegotiationDelay,
		},
		Decider: decider,
		Wrapper: wrapper,
		Router:  s.router,
		Tracker: s.tracker,
		History: s.history,
		Stats:   s.errStats,
		Logger:  logger,
	})
	s.publishStats()
	return s
}

// Power returns the power this session plays.
func (s *Session) Power() string { return s.power }

// Running reports whether the session loop should keep going.
func (s *Session) Running() bool {
	select {
	case <-s.stop:
		return false
	default:
		return s.running.Load()
	}
}

// Stop asks the session to shut down. It returns immediately.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stop)
	})
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.exited }

// Run drives the session until the game ends, ctx is cancelled, Stop is
// called or a fatal error occurs. Cleanup always runs before it returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.exited)
	s.running.Store(true)
	stopOnCancel := context.AfterFunc(ctx, s.Stop)
	defer stopOnCancel()
	defer s.cleanup()

	if err := s.initialize(ctx); err != nil {
		s.fail(err)
		return s.err
	}

	s.logger.Info("Bot is now running", "game_id", s.game.GameID(), "phase", s.phase)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for s.Running() {
		if len(s.deferred) > 0 {
			ev := s.deferred[0]
			s.deferred = s.deferred[1:]
			s.handleEvent(ctx, ev)
			s.publishStats()
			continue
		}

		select {
		case <-s.stop:
		case ev, ok := <-s.game.Events():
			if !ok {
				s.eventsClosed = true
				s.fail(fmt.Errorf("%w: game server connection lost", domain.ErrTransportConnection))
				continue
			}
			s.handleEvent(ctx, ev)
		case cmd := <-s.commands:
			cmd(ctx)
		case <-ticker.C:
			if backoff := s.poll(ctx); backoff > 0 {
				ticker.Reset(backoff)
			} else {
				ticker.Reset(s.cfg.PollInterval)
			}
		}
		s.publishStats()
	}

	if s.gameState.Done() {
		s.logger.Info("Game has finished", "status", s.gameState.Status)
	} else {
		s.logger.Info("Bot shutting down")
	}
	return s.err
}

func (s *Session) initialize(ctx context.Context) error {
	st, err := resilience.Do(ctx, s.wrapper, "synchronize", s.game.Synchronize)
	if err != nil {
		return fmt.Errorf("%w: initial synchronize: %w", domain.ErrSessionFatal, err)
	}

	msgs, err := resilience.Do(ctx, s.wrapper, "get_recent_messages", func(ctx context.Context) ([]domain.Message, error) {
		return s.game.RecentMessages(ctx, st.Phase, historySeedLimit)
	})
	if err != nil {
		s.logger.Warn("Could not seed message history", "error", err)
	}
	for _, m := range msgs {
		s.history.Add(m)
	}

	s.state = StateActive
	s.logger.Info("Bot initialized", "phase", st.Phase, "status", st.Status, "seeded_messages", len(msgs))
	s.reconcile(ctx, st)
	return nil
}

func (s *Session) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventPhaseUpdate:
		s.onPhaseUpdate(ctx, ev)
	case transport.EventGameProcessed:
		s.onGameProcessed(ctx)
	case transport.EventMessageReceived:
		if ev.Message != nil {
			s.onMessageReceived(ctx, *ev.Message)
		}
	case transport.EventStatusUpdate:
		s.onStatusUpdate(ev.Status)
	case transport.EventPowersControllers:
		s.onPowersControllers(ev.Controllers)
	default:
		s.logger.Debug("Ignoring event", "kind", ev.Kind)
	}
}

// fail records a terminal error and stops the loop.
func (s *Session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.logger.Error("Session terminating", "error", err)
	s.Stop()
}

// cleanup leaves the game and closes the connection under a hard budget.
func (s *Session) cleanup() {
	s.logger.Info("Starting cleanup process")
	ctx, cancel := context.WithTimeout(context.Background(), cleanupBudget)
	defer cancel()

	tasks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"leave game", func(ctx context.Context) error {
			if s.eventsClosed {
				return nil
			}
			return s.wrapper.Run(ctx, "leave_game", s.game.Leave)
		}},
		{"close connection", func(context.Context) error { return s.game.Close() }},
	}
	for _, task := range tasks {
		if err := runBounded(ctx, cleanupTaskTimeout, task.fn); err != nil {
			s.logger.Warn("Cleanup task failed", "task", task.name, "error", err)
		}
	}

	s.state = StateTerminated
	s.publishStats()
	s.logger.Info("Cleanup completed")
}

// runBounded runs fn under timeout and abandons it if it overruns.
func runBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(taskCtx) }()
	select {
	case err := <-done:
		return err
	case <-taskCtx.Done():
		return fmt.Errorf("cancelled pending cleanup task: %w", taskCtx.Err())
	}
}
