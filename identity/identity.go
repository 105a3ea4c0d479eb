// Package identity defines the boundary to the remote identity provider.
package identity

import (
	"context"
	"crypto"
	"time"
)

// Client is the identity provider as seen by the guard engine. The engine only
// calls it; implementations own the provider's wire protocol.
type Client interface {
	Authenticate(ctx context.Context, credentials Credentials) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
	SigningKeys(ctx context.Context, issuer string) (*KeySet, error)
	Revoke(ctx context.Context, token string) error
}

// Credentials are the user's primary login credentials.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenSet is what the provider hands back from a login or refresh.
type TokenSet struct {
	AccessToken      string    `json:"access_token"`
	IDToken          string    `json:"id_token,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Key is a single public verification key.
type Key struct {
	ID        string
	Algorithm string
	Public    crypto.PublicKey
}

// KeySet holds an issuer's published verification keys indexed by key id.
type KeySet struct {
	Issuer    string
	Keys      map[string]Key
	FetchedAt time.Time
}

func NewKeySet(issuer string, fetchedAt time.Time, keys ...Key) *KeySet {
	ks := &KeySet{
		Issuer:    issuer,
		Keys:      make(map[string]Key, len(keys)),
		FetchedAt: fetchedAt,
	}
	for _, k := range keys {
		ks.Keys[k.ID] = k
	}
	return ks
}

func (ks *KeySet) Lookup(kid string) (Key, bool) {
	if ks == nil {
		return Key{}, false
	}
	k, ok := ks.Keys[kid]
	return k, ok
}

func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.Keys)
}
