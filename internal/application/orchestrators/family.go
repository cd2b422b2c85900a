package orchestrators

import (
	"context"
	"log/slog"

	"studiobook/internal/domain/person"
)

// ListEligibleInput carries input for the family selector.
type ListEligibleInput struct {
	Self       person.Person
	ClientID   int
	LocationID int
}

// ListEligibleDeps holds dependencies for ListEligible.
type ListEligibleDeps struct {
	API BackendAPI
}

// ExecuteListEligible resolves the set of people a booking may apply to.
// The account holder is always included, synthesized from the current
// account unless already present in the fetched family list.
// PRE: input.Self identifies the signed-in account
// POST: Returns a non-empty list with no duplicate person identities
// INVARIANT: A fetch failure or empty family list degrades to self only
// and never blocks the flow
func ExecuteListEligible(ctx context.Context, input ListEligibleInput, deps ListEligibleDeps) []person.Person {
	family, err := deps.API.GetUserFamily(ctx, input.Self.ClientID, input.Self.PersonID)
	if err != nil {
		slog.Warn("family_fetch_failed", "client_id", input.Self.ClientID, "error", err.Error())
		return []person.Person{input.Self}
	}
	if len(family) == 0 {
		return []person.Person{input.Self}
	}

	eligible := make([]person.Person, 0, len(family)+1)
	seen := make(map[string]bool, len(family)+1)
	selfIncluded := false
	for _, m := range family {
		if m.Same(input.Self) {
			selfIncluded = true
		}
	}
	if !selfIncluded {
		eligible = append(eligible, input.Self)
		seen[input.Self.Key()] = true
	}
	for _, m := range family {
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		eligible = append(eligible, m)
	}
	return eligible
}
