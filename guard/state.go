package guard

import (
	"errors"
	"fmt"

	"github.com/jrsteele09/cognito-guard/auth"
)

// State is a step of one authentication attempt.
type State int

const (
	Unauthenticated State = iota
	Validating
	Authenticated
	Failed
)

var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	Unauthenticated: {Validating},
	Validating:      {Authenticated, Failed},
}

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Validating:
		return "validating"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Attempt is the state machine for a single request. Authenticated and
// Failed are terminal; a new request needs a new Attempt.
type Attempt struct {
	strategy  Strategy
	state     State
	principal *auth.Principal
	err       error
}

func NewAttempt(strategy Strategy) *Attempt {
	return &Attempt{strategy: strategy, state: Unauthenticated}
}

func (a *Attempt) Strategy() Strategy         { return a.strategy }
func (a *Attempt) State() State               { return a.state }
func (a *Attempt) Principal() *auth.Principal { return a.principal }
func (a *Attempt) Err() error                 { return a.err }

// Kind is the failure kind, or KindUnknown when the attempt has not failed.
func (a *Attempt) Kind() auth.ErrorKind {
	if a.err == nil {
		return auth.KindUnknown
	}
	return auth.KindOf(a.err)
}

func (a *Attempt) Authenticated() bool {
	return a.state == Authenticated
}

func (a *Attempt) Begin() error {
	return a.moveTo(Validating)
}

func (a *Attempt) Succeed(p *auth.Principal) error {
	if p == nil {
		return errors.New("[Attempt.Succeed] principal is required")
	}
	if err := a.moveTo(Authenticated); err != nil {
		return err
	}
	a.principal = p
	return nil
}

func (a *Attempt) Fail(err error) error {
	if err == nil {
		return errors.New("[Attempt.Fail] error is required")
	}
	if ferr := a.moveTo(Failed); ferr != nil {
		return ferr
	}
	a.err = err
	return nil
}

func (a *Attempt) moveTo(next State) error {
	if !a.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.state, next)
	}
	a.state = next
	return nil
}
