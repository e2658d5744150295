package auth

import "strings"

// Decision is a tri-state permission verdict. It starts Undecided and is
// settled exactly once per check.
type Decision int

const (
	DecisionUndecided Decision = iota
	DecisionAllowed
	DecisionDenied
)

// Allowed reports whether the decision settled on access being granted.
func (d Decision) Allowed() bool { return d == DecisionAllowed }

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDenied:
		return "denied"
	default:
		return "undecided"
	}
}

// Evaluate checks a single permission requirement against token claims.
// Matching is case-insensitive on the permission key. Claims are trusted for
// the token's lifetime, so grants revoked mid-lifetime still evaluate as held
// until the token expires or is refreshed.
func Evaluate(claims *Claims, requirement string) Decision {
	requirement = strings.TrimSpace(requirement)
	if claims == nil || requirement == "" {
		return DecisionDenied
	}
	for _, p := range claims.Permissions {
		if strings.EqualFold(p, requirement) {
			return DecisionAllowed
		}
	}
	return DecisionDenied
}
