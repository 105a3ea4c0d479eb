package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the guard engine can surface.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	Malformed
	Expired
	BadSignature
	BadIssuer
	BadAudience
	Revoked
	RefreshExpired
	ProviderUnavailable
	NotFound
	Cancelled
	InvalidCredentials
)

var kindNames = map[ErrorKind]string{
	KindUnknown:         "unknown",
	Malformed:           "malformed",
	Expired:             "expired",
	BadSignature:        "bad_signature",
	BadIssuer:           "bad_issuer",
	BadAudience:         "bad_audience",
	Revoked:             "revoked",
	RefreshExpired:      "refresh_expired",
	ProviderUnavailable: "provider_unavailable",
	NotFound:            "not_found",
	Cancelled:           "cancelled",
	InvalidCredentials:  "invalid_credentials",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the typed failure returned by the validator, session store and guard.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is comparisons. Matching is by kind only.
var (
	ErrMalformed           = &Error{Kind: Malformed}
	ErrExpired             = &Error{Kind: Expired}
	ErrBadSignature        = &Error{Kind: BadSignature}
	ErrBadIssuer           = &Error{Kind: BadIssuer}
	ErrBadAudience         = &Error{Kind: BadAudience}
	ErrRevoked             = &Error{Kind: Revoked}
	ErrRefreshExpired      = &Error{Kind: RefreshExpired}
	ErrProviderUnavailable = &Error{Kind: ProviderUnavailable}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrCancelled           = &Error{Kind: Cancelled}
	ErrInvalidCredentials  = &Error{Kind: InvalidCredentials}
)

// NewError builds an *Error. err may be nil.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = "[" + e.Op + "] " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

// Classify makes sure err carries a kind. Existing *Error values pass through,
// context cancellation becomes Cancelled, deadline expiry becomes
// ProviderUnavailable and anything else is tagged with fallback.
func Classify(op string, err error, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(Cancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ProviderUnavailable, op, err)
	}
	return NewError(fallback, op, err)
}
