package decision

import (
	"context"
	"sort"
	"strings"
)

// Fallback is used when no decision service is configured. It holds every
// unit that can hold and never negotiates.
type Fallback struct{}

func (Fallback) Model() string { return "fallback" }

func (Fallback) DecideOrders(_ context.Context, req Request) ([]string, error) {
	locs := make([]string, 0, len(req.PossibleOrders))
	for loc := range req.PossibleOrders {
		locs = append(locs, loc)
	}
	sort.Strings(locs)

	orders := make([]string, 0, len(locs))
	for _, loc := range locs {
		legal := req.PossibleOrders[loc]
		if len(legal) == 0 {
			continue
		}
		chosen := legal[0]
		for _, o := range legal {
			if strings.HasSuffix(strings.TrimSpace(o), " H") {
				chosen = o
				break
			}
		}
		orders = append(orders, chosen)
	}
	return orders, nil
}

func (Fallback) DecideMessages(context.Context, Request) ([]Proposal, error) {
	return nil, nil
}
