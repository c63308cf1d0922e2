package negotiation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ashureev/diplobot/internal/contacts"
	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/resilience"
)

type scriptedDecider struct {
	rounds   [][]decision.Proposal
	errs     []error
	requests []decision.Request
	onCall   func(call int)
}

func (d *scriptedDecider) Model() string { return "scripted" }

func (d *scriptedDecider) DecideOrders(context.Context, decision.Request) ([]string, error) {
	return nil, nil
}

func (d *scriptedDecider) DecideMessages(_ context.Context, req decision.Request) ([]decision.Proposal, error) {
	call := len(d.requests)
	d.requests = append(d.requests, req)
	if d.onCall != nil {
		d.onCall(call)
	}
	if call < len(d.errs) && d.errs[call] != nil {
		return nil, d.errs[call]
	}
	if call < len(d.rounds) {
		return d.rounds[call], nil
	}
	return nil, nil
}

type fakeHost struct {
	table    Table
	tableErr error
	running  bool
	rounds   []int
	pauses   []time.Duration
	onPause  func(n int)
}

func (h *fakeHost) Table(context.Context) (Table, error) { return h.table, h.tableErr }
func (h *fakeHost) Running() bool                        { return h.running }
func (h *fakeHost) SetRound(round int)                   { h.rounds = append(h.rounds, round) }

func (h *fakeHost) Pause(_ context.Context, d time.Duration) error {
	h.pauses = append(h.pauses, d)
	if h.onPause != nil {
		h.onPause(len(h.pauses))
	}
	return nil
}

type coordinatorFixture struct {
	coord   *Coordinator
	decider *scriptedDecider
	tracker *contacts.Tracker
	sender  *fakeSender
	stats   *ErrorStats
}

func newCoordinatorFixture(maxRounds int) *coordinatorFixture {
	f := &coordinatorFixture{
		decider: &scriptedDecider{},
		tracker: contacts.NewTracker("FRANCE"),
		sender:  &fakeSender{},
		stats:   NewErrorStats(),
	}
	history := domain.NewHistory()
	wrapper := resilience.New(resilience.Policy{MaxRetries: 0}, resilience.WithLogger(discardLogger()))
	router := NewRouter(RouterDeps{
		Power:     "FRANCE",
		Transport: f.sender,
		Wrapper:   wrapper,
		History:   history,
		Tracker:   f.tracker,
		Logger:    discardLogger(),
	})
	f.coord = NewCoordinator(CoordinatorDeps{
		Power:   "FRANCE",
		Config:  Config{MaxRounds: maxRounds, BaseDelay: 10 * time.Second},
		Decider: f.decider,
		Wrapper: wrapper,
		Router:  router,
		Tracker: f.tracker,
		History: history,
		Stats:   f.stats,
		Logger:  discardLogger(),
	})
	return f
}

func movementTable() Table {
	return Table{
		Phase:          "S1901M",
		PossibleOrders: map[string][]string{"PAR": {"A PAR H"}},
		Active:         []string{"GERMANY", "ITALY", "ENGLAND"},
	}
}

func TestRoundDelay(t *testing.T) {
	base := 10 * time.Second
	tests := []struct {
		round, max int
		want       time.Duration
	}{
		{1, 3, 15 * time.Second},
		{2, 3, 5 * time.Second},
		{1, 2, 15 * time.Second},
		{2, 5, 10 * time.Second},
		{3, 5, 10 * time.Second},
		{4, 5, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := RoundDelay(base, tt.round, tt.max); got != tt.want {
			t.Errorf("RoundDelay(%d, %d) = %v, want %v", tt.round, tt.max, got, tt.want)
		}
	}
}

func TestShouldParticipate(t *testing.T) {
	tbl := movementTable()
	if !ShouldParticipate(tbl) {
		t.Error("expected participation in a movement phase with orders")
	}

	retreat := movementTable()
	retreat.Phase = "S1901R"
	eliminated := movementTable()
	eliminated.Eliminated = true
	idle := movementTable()
	idle.PossibleOrders = nil

	for name, tbl := range map[string]Table{"retreat": retreat, "eliminated": eliminated, "no orders": idle} {
		if ShouldParticipate(tbl) {
			t.Errorf("%s: expected no participation", name)
		}
	}
}

func TestRunPhase_SkipsWithoutNetworkActivity(t *testing.T) {
	f := newCoordinatorFixture(3)
	tbl := movementTable()
	tbl.Phase = "W1901A"
	host := &fakeHost{table: tbl, running: true}

	out := f.coord.RunPhase(context.Background(), host)

	if out.Participated {
		t.Error("expected no participation")
	}
	if len(f.decider.requests) != 0 || len(host.pauses) != 0 {
		t.Error("skipped negotiation must not call the decider or pause")
	}
}

func TestRunPhase_RoundTwoTargetsFollowInboundActivity(t *testing.T) {
	f := newCoordinatorFixture(3)
	host := &fakeHost{table: movementTable(), running: true}
	host.onPause = func(n int) {
		if n == 1 {
			f.tracker.RecordInbound("ENGLAND")
			f.tracker.RecordInbound("GERMANY")
			f.tracker.RecordInbound("ENGLAND")
		}
	}

	out := f.coord.RunPhase(context.Background(), host)

	if out.Rounds != 3 {
		t.Fatalf("rounds = %d, want 3", out.Rounds)
	}
	if !reflect.DeepEqual(host.rounds, []int{1, 2, 3}) {
		t.Errorf("SetRound calls = %v", host.rounds)
	}
	wantPauses := []time.Duration{15 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(host.pauses, wantPauses) {
		t.Errorf("pauses = %v, want %v", host.pauses, wantPauses)
	}

	if got := f.decider.requests[0].Targets; !reflect.DeepEqual(got, []string{"GERMANY", "ITALY", "ENGLAND"}) {
		t.Errorf("round 1 targets = %v", got)
	}
	if got := f.decider.requests[1].Targets; !reflect.DeepEqual(got, []string{"ENGLAND", "GERMANY", "ITALY"}) {
		t.Errorf("round 2 targets = %v, want ENGLAND before GERMANY before silent peers", got)
	}
}

func TestRunPhase_DecisionErrorDoesNotAbortPhase(t *testing.T) {
	f := newCoordinatorFixture(3)
	f.decider.errs = []error{nil, domain.ErrDecision}
	f.decider.rounds = [][]decision.Proposal{
		{{Content: "Hello all", Type: decision.MessageBroadcast}},
		nil,
		{private("ITALY", "Lepanto?")},
	}
	host := &fakeHost{table: movementTable(), running: true}

	out := f.coord.RunPhase(context.Background(), host)

	if out.Rounds != 3 || out.Sent != 2 {
		t.Errorf("outcome = %+v, want 3 rounds and 2 sent", out)
	}
	if got := f.stats.Count("scripted", ConversationErrors); got != 1 {
		t.Errorf("conversation errors = %d, want 1", got)
	}
}

func TestPlayRound_ReportsDeciderError(t *testing.T) {
	f := newCoordinatorFixture(2)
	f.decider.errs = []error{errors.Join(domain.ErrDecision, errors.New("bad json"))}

	out := f.coord.PlayRound(context.Background(), movementTable(), 1)

	if out.Err == nil || out.Sent != 0 {
		t.Errorf("outcome = %+v, want error with zero sent", out)
	}
}

func TestRunPhase_StopsWhenHostStops(t *testing.T) {
	f := newCoordinatorFixture(3)
	host := &fakeHost{table: movementTable(), running: true}
	host.onPause = func(int) { host.running = false }

	out := f.coord.RunPhase(context.Background(), host)

	if out.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", out.Rounds)
	}
}

func TestRunPhase_EndsWhenPhaseAdvances(t *testing.T) {
	f := newCoordinatorFixture(3)
	host := &fakeHost{table: movementTable(), running: true}
	host.onPause = func(int) { host.table.Phase = "F1901M" }

	out := f.coord.RunPhase(context.Background(), host)

	if out.Rounds != 1 || out.Phase != "S1901M" || !out.Advanced {
		t.Errorf("outcome = %+v, want a single advanced round in S1901M", out)
	}
}

func TestRunPhase_HostReportsPhaseAdvanced(t *testing.T) {
	f := newCoordinatorFixture(3)
	host := &fakeHost{tableErr: ErrPhaseAdvanced, running: true}

	out := f.coord.RunPhase(context.Background(), host)

	if !out.Advanced || out.Participated || out.Rounds != 0 {
		t.Errorf("outcome = %+v, want advanced without participation", out)
	}
	if len(f.decider.requests) != 0 {
		t.Error("decider should not be asked once the phase has moved on")
	}
}
