package guard

import (
	"fmt"
	"strings"
)

// Strategy selects how a Guard authenticates a request.
type Strategy int

const (
	// SessionStrategy authenticates from a server-side session id.
	SessionStrategy Strategy = iota + 1
	// TokenStrategy authenticates from a bearer token on every request.
	TokenStrategy
)

var strategyNames = map[string]Strategy{
	"session":         SessionStrategy,
	"cognito-session": SessionStrategy,
	"token":           TokenStrategy,
	"cognito-token":   TokenStrategy,
}

func (s Strategy) String() string {
	switch s {
	case SessionStrategy:
		return "session"
	case TokenStrategy:
		return "token"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy resolves a configured guard name.
func ParseStrategy(name string) (Strategy, error) {
	s, ok := strategyNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown guard strategy %q", name)
	}
	return s, nil
}

// ParseStrategies resolves every name, rejecting duplicates.
func ParseStrategies(names []string) ([]Strategy, error) {
	seen := make(map[Strategy]bool, len(names))
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			return nil, fmt.Errorf("guard strategy %q configured twice", s)
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
