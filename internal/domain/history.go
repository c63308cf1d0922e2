package domain

// History holds the messages seen by one session, grouped by phase.
type History struct {
	phases   []Phase
	messages map[Phase][]Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{messages: make(map[Phase][]Message)}
}

// AddPhase registers a phase so it appears in Phases even without messages.
func (h *History) AddPhase(p Phase) {
	if _, ok := h.messages[p]; ok {
		return
	}
	h.phases = append(h.phases, p)
	h.messages[p] = nil
}

// Add appends a message to its phase.
func (h *History) Add(m Message) {
	h.AddPhase(m.Phase)
	h.messages[m.Phase] = append(h.messages[m.Phase], m)
}

// Phases returns phases in the order they were first seen.
func (h *History) Phases() []Phase {
	return append([]Phase(nil), h.phases...)
}

// Messages returns the messages recorded for a phase.
func (h *History) Messages(p Phase) []Message {
	return append([]Message(nil), h.messages[p]...)
}

// Recent returns the last n messages across all phases, oldest first.
func (h *History) Recent(n int) []Message {
	var all []Message
	for _, p := range h.phases {
		all = append(all, h.messages[p]...)
	}
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the total number of messages.
func (h *History) Len() int {
	total := 0
	for _, msgs := range h.messages {
		total += len(msgs)
	}
	return total
}
