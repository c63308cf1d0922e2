package domain

import (
	"strconv"
	"strings"
)

// Phase is a short phase code such as "S1901M" (season, year, type).
type Phase string

// PhaseType is the trailing letter of a phase code.
type PhaseType byte

const (
	// PhaseMovement is the order-writing phase where negotiation happens.
	PhaseMovement PhaseType = 'M'
	// PhaseRetreat resolves dislodged units.
	PhaseRetreat PhaseType = 'R'
	// PhaseAdjustment is the winter build/disband phase.
	PhaseAdjustment PhaseType = 'A'
	// PhaseUnknown is returned for codes that do not follow the season/year/type shape.
	PhaseUnknown PhaseType = 0
)

// OpeningPhase is the first phase of a standard game.
const OpeningPhase Phase = "S1901M"

var seasonRank = map[byte]int{'S': 0, 'F': 1, 'W': 2}

var typeRank = map[PhaseType]int{PhaseMovement: 0, PhaseRetreat: 1, PhaseAdjustment: 2}

// Type returns the phase type derived from the code suffix.
func (p Phase) Type() PhaseType {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return PhaseUnknown
	}
	switch t := PhaseType(s[len(s)-1]); t {
	case PhaseMovement, PhaseRetreat, PhaseAdjustment:
		return t
	default:
		return PhaseUnknown
	}
}

// IsMovement reports whether the phase is a movement phase.
func (p Phase) IsMovement() bool {
	return p.Type() == PhaseMovement
}

func (p Phase) parse() (year, season, kind int, ok bool) {
	s := strings.TrimSpace(string(p))
	if len(s) < 3 {
		return 0, 0, 0, false
	}
	season, ok = seasonRank[s[0]]
	if !ok {
		return 0, 0, 0, false
	}
	kind, ok = typeRank[p.Type()]
	if !ok {
		return 0, 0, 0, false
	}
	year, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil {
		return 0, 0, 0, false
	}
	return year, season, kind, true
}

// Compare orders two phases by game progression. It returns -1, 0 or +1 and
// ok=false when either code cannot be parsed.
func (p Phase) Compare(other Phase) (int, bool) {
	y1, s1, k1, ok1 := p.parse()
	y2, s2, k2, ok2 := other.parse()
	if !ok1 || !ok2 {
		return 0, false
	}
	for _, d := range [][2]int{{y1, y2}, {s1, s2}, {k1, k2}} {
		switch {
		case d[0] < d[1]:
			return -1, true
		case d[0] > d[1]:
			return 1, true
		}
	}
	return 0, true
}

// Before reports whether p strictly precedes other. Unparseable codes are
// never considered earlier.
func (p Phase) Before(other Phase) bool {
	c, ok := p.Compare(other)
	return ok && c < 0
}
