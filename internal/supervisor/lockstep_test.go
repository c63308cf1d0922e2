package supervisor

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/session"
)

type fakeNegotiator struct {
	power    string
	done     chan struct{}
	onFinish func()

	mu       sync.Mutex
	pending  bool
	table    negotiation.Table
	rounds   []int
	finished []domain.Phase
}

func newFakeNegotiator(power string, phase domain.Phase, participate bool) *fakeNegotiator {
	t := negotiation.Table{Phase: phase, Active: []string{"ENGLAND", "GERMANY"}}
	if participate {
		t.PossibleOrders = map[string][]string{"PAR": {"A PAR H"}}
	}
	return &fakeNegotiator{power: power, done: make(chan struct{}), pending: true, table: t}
}

func (n *fakeNegotiator) Power() string         { return n.power }
func (n *fakeNegotiator) Done() <-chan struct{} { return n.done }

func (n *fakeNegotiator) AwaitingNegotiation(context.Context) (session.Pending, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return session.Pending{Pending: n.pending, Table: n.table}, nil
}

func (n *fakeNegotiator) PlayRound(_ context.Context, t negotiation.Table, round int) (negotiation.RoundOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rounds = append(n.rounds, round)
	return negotiation.RoundOutcome{Round: round, Sent: 1}, nil
}

func (n *fakeNegotiator) FinishNegotiation(_ context.Context, phase domain.Phase) error {
	n.mu.Lock()
	n.pending = false
	n.finished = append(n.finished, phase)
	n.mu.Unlock()
	if n.onFinish != nil {
		n.onFinish()
	}
	return nil
}

func (n *fakeNegotiator) playedRounds() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.rounds...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func runLockstep(t *testing.T, ls *Lockstep) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ls.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("lockstep did not finish before the deadline")
	}
}

func TestLockstep_RoundsFanOutAndJoin(t *testing.T) {
	france := newFakeNegotiator("FRANCE", "S1901M", true)
	germany := newFakeNegotiator("GERMANY", "S1901M", true)
	france.onFinish = func() { close(france.done) }
	germany.onFinish = func() { close(germany.done) }

	ls := NewLockstep([]Negotiator{france, germany}, LockstepConfig{MaxRounds: 3, BaseDelay: 10 * time.Second}, discardLogger())
	rec := &sleepRecorder{}
	ls.sleep = rec.sleep
	runLockstep(t, ls)

	for _, n := range []*fakeNegotiator{france, germany} {
		if got := n.playedRounds(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
			t.Fatalf("%s rounds = %v, want [1 2 3]", n.power, got)
		}
		if !reflect.DeepEqual(n.finished, []domain.Phase{"S1901M"}) {
			t.Fatalf("%s finished = %v", n.power, n.finished)
		}
	}
	want := []time.Duration{15 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Fatalf("inter-round delays = %v, want %v", rec.delays, want)
	}
}

func TestLockstep_NonParticipantFinishesWithoutRounds(t *testing.T) {
	france := newFakeNegotiator("FRANCE", "S1902M", true)
	austria := newFakeNegotiator("AUSTRIA", "S1902M", false)
	france.onFinish = func() { close(france.done) }
	austria.onFinish = func() { close(austria.done) }

	ls := NewLockstep([]Negotiator{france, austria}, LockstepConfig{MaxRounds: 1}, discardLogger())
	ls.sleep = (&sleepRecorder{}).sleep
	runLockstep(t, ls)

	if got := austria.playedRounds(); len(got) != 0 {
		t.Fatalf("non-participant played rounds %v", got)
	}
	if len(austria.finished) != 1 || len(france.playedRounds()) != 1 {
		t.Fatalf("austria finished=%v france rounds=%v", austria.finished, france.playedRounds())
	}
}

func TestLockstep_WaitsForStragglersUntilSettle(t *testing.T) {
	ready := newFakeNegotiator("FRANCE", "F1901M", true)
	straggler := newFakeNegotiator("RUSSIA", "F1901M", true)
	straggler.pending = false
	ready.onFinish = func() {
		close(ready.done)
		close(straggler.done)
	}

	ls := NewLockstep([]Negotiator{ready, straggler}, LockstepConfig{MaxRounds: 1, Settle: 5 * time.Second}, discardLogger())
	var clock time.Time
	ls.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	rec := &sleepRecorder{}
	ls.sleep = rec.sleep
	runLockstep(t, ls)

	if len(rec.delays) == 0 {
		t.Fatal("orchestrator did not wait for the straggler")
	}
	if got := ready.playedRounds(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("ready rounds = %v, want [1]", got)
	}
	if got := straggler.playedRounds(); len(got) != 0 {
		t.Fatalf("straggler rounds = %v, want none", got)
	}
}

func TestLockstep_NewestPhaseWins(t *testing.T) {
	behind := newFakeNegotiator("ITALY", "S1901M", true)
	ahead := newFakeNegotiator("TURKEY", "F1901M", true)

	ls := NewLockstep(nil, LockstepConfig{}, discardLogger())
	phase, ready := ls.collect(context.Background(), []Negotiator{behind, ahead})
	if phase != "F1901M" || len(ready) != 1 || ready[0].member != ahead {
		t.Fatalf("collect() = %q, %d ready, want F1901M with TURKEY", phase, len(ready))
	}
}
