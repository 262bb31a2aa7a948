package record

import (
	"strings"

	"github.com/teranos/vouch/errors"
)

// Branch is the service affiliation category of a candidate record.
// The set is fixed; import resolves free-form input to one of these
// or rejects the row.
type Branch string

const (
	BranchArmy               Branch = "Army"
	BranchAirForce           Branch = "Air Force"
	BranchNavy               Branch = "Navy"
	BranchMarineCorps        Branch = "Marine Corps"
	BranchCoastGuard         Branch = "Coast Guard"
	BranchSpaceForce         Branch = "Space Force"
	BranchArmyNationalGuard  Branch = "Army National Guard"
	BranchArmyReserve        Branch = "Army Reserve"
	BranchAirNationalGuard   Branch = "Air National Guard"
	BranchAirForceReserve    Branch = "Air Force Reserve"
	BranchNavyReserve        Branch = "Navy Reserve"
	BranchMarineCorpsReserve Branch = "Marine Corps Reserve"
	BranchCoastGuardReserve  Branch = "Coast Guard Reserve"
)

// AllBranches returns every valid branch in canonical order
func AllBranches() []Branch {
	return []Branch{
		BranchArmy,
		BranchAirForce,
		BranchNavy,
		BranchMarineCorps,
		BranchCoastGuard,
		BranchSpaceForce,
		BranchArmyNationalGuard,
		BranchArmyReserve,
		BranchAirNationalGuard,
		BranchAirForceReserve,
		BranchNavyReserve,
		BranchMarineCorpsReserve,
		BranchCoastGuardReserve,
	}
}

// String returns the canonical branch name
func (b Branch) String() string {
	return string(b)
}

// Valid reports whether b is one of the canonical branches
func (b Branch) Valid() bool {
	for _, branch := range AllBranches() {
		if b == branch {
			return true
		}
	}
	return false
}

// Key returns a lowercase underscore form usable as a config map key
// (e.g. "Marine Corps Reserve" -> "marine_corps_reserve")
func (b Branch) Key() string {
	return strings.ReplaceAll(strings.ToLower(string(b)), " ", "_")
}

// MatchBranch resolves free-form input to a canonical branch.
// Matching is case-insensitive, tolerates a leading "US " and minor
// variations ("Marines", "USAF Reserve"). Unrecognized input is an error
// rather than a silent default.
func MatchBranch(input string) (Branch, error) {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, "U.S.", "")
	normalized = strings.ReplaceAll(normalized, "US ", "")
	normalized = strings.TrimSpace(normalized)

	if normalized == "" {
		return "", errors.New("branch is empty")
	}

	// Exact match against canonical names first
	for _, branch := range AllBranches() {
		if strings.ToUpper(string(branch)) == normalized {
			return branch, nil
		}
	}

	// Keyword matching, most specific rule first
	has := func(s string) bool { return strings.Contains(normalized, s) }
	switch {
	case has("MARINE") && has("RESERVE"):
		return BranchMarineCorpsReserve, nil
	case has("MARINE"):
		return BranchMarineCorps, nil
	case has("ARMY") && has("NATIONAL"):
		return BranchArmyNationalGuard, nil
	case has("ARMY") && has("RESERVE"):
		return BranchArmyReserve, nil
	case has("ARMY"):
		return BranchArmy, nil
	case has("NAVY") && has("RESERVE"):
		return BranchNavyReserve, nil
	case has("NAVY"):
		return BranchNavy, nil
	case has("AIR") && has("NATIONAL"):
		return BranchAirNationalGuard, nil
	case (has("AIR") || has("USAF")) && has("RESERVE"):
		return BranchAirForceReserve, nil
	case has("AIR") || has("USAF"):
		return BranchAirForce, nil
	case has("COAST") && has("RESERVE"):
		return BranchCoastGuardReserve, nil
	case has("COAST"):
		return BranchCoastGuard, nil
	case has("SPACE"):
		return BranchSpaceForce, nil
	}

	return "", errors.Newf("unrecognized branch %q", input)
}
