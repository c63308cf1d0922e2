package decision

import "strings"

type legalOrder struct {
	location string
	spelling string
}

// FilterLegal keeps the decided orders that appear in the legal set, at most
// one per location, spelled as the server spells them. Everything else is
// returned as dropped.
func FilterLegal(orders []string, possible map[string][]string) (kept, dropped []string) {
	legal := make(map[string]legalOrder)
	for loc, options := range possible {
		for _, o := range options {
			legal[canonicalOrder(o)] = legalOrder{location: loc, spelling: o}
		}
	}

	used := make(map[string]bool, len(possible))
	for _, o := range orders {
		match, ok := legal[canonicalOrder(o)]
		if !ok || used[match.location] {
			dropped = append(dropped, o)
			continue
		}
		used[match.location] = true
		kept = append(kept, match.spelling)
	}
	return kept, dropped
}

func canonicalOrder(order string) string {
	return strings.ToUpper(strings.Join(strings.Fields(order), " "))
}
