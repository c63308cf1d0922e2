package contacts

import (
	"reflect"
	"testing"
)

func TestPriorityRanking_TiesKeepFirstSeenOrder(t *testing.T) {
	tr := NewTracker("FRANCE")
	inbound := []string{"X", "Z", "Y", "X", "W", "Y", "Z", "X", "Y", "Z", "X", "X"}
	for _, p := range inbound {
		tr.RecordInbound(p)
	}

	want := []string{"X", "Z", "Y", "W"}
	for i := 0; i < 3; i++ {
		if got := tr.PriorityRanking(); !reflect.DeepEqual(got, want) {
			t.Fatalf("PriorityRanking() = %v, want %v", got, want)
		}
	}
}

func TestPriorityRanking_CapsAtFourAndIgnoresSelf(t *testing.T) {
	tr := NewTracker("france")
	for _, p := range []string{"FRANCE", "A", "B", "C", "D", "E", "E"} {
		tr.RecordInbound(p)
	}

	got := tr.PriorityRanking()
	want := []string{"E", "A", "B", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PriorityRanking() = %v, want %v", got, want)
	}
}

func TestPriorityRanking_OutboundOnlyPeersAreNotRanked(t *testing.T) {
	tr := NewTracker("FRANCE")
	tr.RecordOutbound("ITALY", 1)
	tr.RecordInbound("ENGLAND")

	if got := tr.PriorityRanking(); !reflect.DeepEqual(got, []string{"ENGLAND"}) {
		t.Errorf("PriorityRanking() = %v, want [ENGLAND]", got)
	}
}

func TestTargets_RoundTwoPrefersActiveContacts(t *testing.T) {
	tr := NewTracker("FRANCE")
	active := []string{"GERMANY", "ITALY", "ENGLAND"}

	if got := tr.Targets(1, active); !reflect.DeepEqual(got, active) {
		t.Fatalf("round 1 targets = %v, want %v", got, active)
	}

	tr.RecordInbound("GERMANY")
	tr.RecordInbound("ENGLAND")
	tr.RecordInbound("ENGLAND")

	got := tr.Targets(2, active)
	want := []string{"ENGLAND", "GERMANY", "ITALY"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round 2 targets = %v, want %v", got, want)
	}
}

func TestTargets_LaterRoundsTruncate(t *testing.T) {
	tr := NewTracker("FRANCE")
	active := []string{"AUSTRIA", "ENGLAND", "GERMANY", "ITALY", "RUSSIA", "TURKEY"}
	tr.RecordInbound("TURKEY")

	got := tr.Targets(3, active)
	want := []string{"TURKEY", "AUSTRIA", "ENGLAND", "GERMANY"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Targets() = %v, want %v", got, want)
	}
}

func TestSnapshot_ResponseRate(t *testing.T) {
	tr := NewTracker("FRANCE")
	tr.RecordInbound("ITALY")
	tr.RecordInbound("ITALY")
	tr.RecordOutbound("ITALY", 2)

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one peer, got %d", len(snap))
	}
	if snap[0].Received != 2 || snap[0].Sent != 1 || snap[0].LastSentRound != 2 {
		t.Errorf("unexpected counters: %+v", snap[0])
	}
	if rate := snap[0].ResponseRate(); rate != 0.5 {
		t.Errorf("ResponseRate() = %v, want 0.5", rate)
	}
}
