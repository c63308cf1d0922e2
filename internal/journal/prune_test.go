package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingPruner struct {
	mu         sync.Mutex
	calls      int
	retentions []time.Duration
	err        error
}

func (p *countingPruner) Prune(_ context.Context, retention time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.retentions = append(p.retentions, retention)
	return 1, p.err
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestStartPruneWorker_PrunesImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &countingPruner{}

	StartPruneWorker(ctx, p, 48*time.Hour, 10*time.Millisecond, nil)

	deadline := time.Now().Add(2 * time.Second)
	for p.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := p.count(); n < 3 {
		t.Fatalf("prune calls = %d, want at least 3", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retentions[0] != 48*time.Hour {
		t.Fatalf("retention = %v, want 48h", p.retentions[0])
	}
}

func TestStartPruneWorker_SurvivesErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &countingPruner{err: errors.New("database is locked")}

	StartPruneWorker(ctx, p, time.Hour, 10*time.Millisecond, nil)

	deadline := time.Now().Add(2 * time.Second)
	for p.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := p.count(); n < 2 {
		t.Fatalf("prune calls = %d, want the worker to keep going after an error", n)
	}
}
