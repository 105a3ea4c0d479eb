package sessions

import (
	"time"

	"github.com/jrsteele09/cognito-guard/auth"
)

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string          `json:"id"`
	Subject   string          `json:"sub"`
	Principal *auth.Principal `json:"principal"`

	AccessToken      string    `json:"access_token,omitempty"`
	IDToken          string    `json:"id_token,omitempty"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AccessExpired reports whether the access token needs a refresh.
func (s *Session) AccessExpired(now time.Time) bool {
	return !s.AccessExpiresAt.IsZero() && !now.Before(s.AccessExpiresAt)
}

// slide moves expiry to now+ttl, never past the refresh token's expiry.
func (s *Session) slide(now time.Time, ttl time.Duration) {
	s.ExpiresAt = now.Add(ttl)
	s.clamp()
}

func (s *Session) clamp() {
	if s.ExpiresAt.After(s.RefreshExpiresAt) {
		s.ExpiresAt = s.RefreshExpiresAt
	}
}

// Clone returns a deep copy so stored state cannot be mutated by callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Principal = s.Principal.Clone()
	return &c
}
