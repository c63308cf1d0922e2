// Package supervisor runs several sessions in one process: it launches
// them, tracks them in a registry, serves their status over HTTP and
// optionally drives their negotiation rounds in lockstep.
package supervisor

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/session"
)

// Member is a running session as the registry sees it.
type Member interface {
	Power() string
	Stats() session.Stats
	Stop()
}

// Registry tracks the live session for each power.
type Registry struct {
	mu     sync.RWMutex
	active map[string]Member
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]Member),
		logger: logger,
	}
}

// Get returns the session playing power, or nil.
func (r *Registry) Get(power string) Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[domain.NormalizePower(power)]
}

// Register adds m, stopping any other session already playing its power.
func (r *Registry) Register(m Member) {
	power := domain.NormalizePower(m.Power())
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[power]; ok && existing != m {
		existing.Stop()
	}
	r.active[power] = m
	r.logger.Info("Session registered", "power", power)
}

// Unregister removes m if it is still the registered session for its power.
func (r *Registry) Unregister(m Member) {
	power := domain.NormalizePower(m.Power())
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[power]; ok && current == m {
		delete(r.active, power)
		r.logger.Info("Session unregistered", "power", power)
	}
}

// Members returns the registered sessions ordered by power.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Power() < out[j].Power() })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// StopAll asks every registered session to stop.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for power, m := range r.active {
		m.Stop()
		r.logger.Info("Session stop requested", "power", power)
	}
}
