// Package domain contains core domain types shared by the agent session,
// negotiation and transport layers.
package domain

import "strings"

// Broadcast is the recipient sentinel for messages visible to every active power.
const Broadcast = "GLOBAL"

// StandardPowers lists the seven powers of the standard map.
var StandardPowers = []string{"AUSTRIA", "ENGLAND", "FRANCE", "GERMANY", "ITALY", "RUSSIA", "TURKEY"}

// Power is one player-controlled participant in a game.
type Power struct {
	Name       string `json:"name"`
	Controller string `json:"controller,omitempty"`
	Eliminated bool   `json:"eliminated"`
	Units      int    `json:"units"`
	Centers    int    `json:"centers"`
}

// NormalizePower canonicalizes a power name the way the server spells it.
func NormalizePower(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// ActivePeers returns the non-eliminated powers other than self, in the
// order they appear in powers.
func ActivePeers(powers []Power, self string) []string {
	self = NormalizePower(self)
	peers := make([]string, 0, len(powers))
	for _, p := range powers {
		name := NormalizePower(p.Name)
		if p.Eliminated || name == self {
			continue
		}
		peers = append(peers, name)
	}
	return peers
}

// FindPower returns the named power, if present.
func FindPower(powers []Power, name string) (Power, bool) {
	name = NormalizePower(name)
	for _, p := range powers {
		if NormalizePower(p.Name) == name {
			return p, true
		}
	}
	return Power{}, false
}
