package negotiation

// ErrorKind names a class of decision failure.
type ErrorKind string

const (
	ConversationErrors  ErrorKind = "conversation_errors"
	OrderDecodingErrors ErrorKind = "order_decoding_errors"
)

// ErrorStats counts decision failures per model. Owned by one session.
type ErrorStats struct {
	counts map[string]map[ErrorKind]int
}

// NewErrorStats returns empty statistics.
func NewErrorStats() *ErrorStats {
	return &ErrorStats{counts: make(map[string]map[ErrorKind]int)}
}

// Record counts one failure of kind for model.
func (s *ErrorStats) Record(model string, kind ErrorKind) {
	byKind, ok := s.counts[model]
	if !ok {
		byKind = make(map[ErrorKind]int)
		s.counts[model] = byKind
	}
	byKind[kind]++
}

// Count returns the failures of kind recorded for model.
func (s *ErrorStats) Count(model string, kind ErrorKind) int {
	return s.counts[model][kind]
}

// Snapshot copies the counters.
func (s *ErrorStats) Snapshot() map[string]map[ErrorKind]int {
	out := make(map[string]map[ErrorKind]int, len(s.counts))
	for model, byKind := range s.counts {
		cp := make(map[ErrorKind]int, len(byKind))
		for k, v := range byKind {
			cp[k] = v
		}
		out[model] = cp
	}
	return out
}
