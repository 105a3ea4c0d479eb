package auth

import (
	"maps"
	"slices"
	"time"
)

// TokenUse is the Cognito token_use claim.
type TokenUse string

const (
	TokenUseAccess TokenUse = "access"
	TokenUseID     TokenUse = "id"
)

// Principal is the resolved identity handed back to callers after a
// successful validation.
type Principal struct {
	Subject    string         `json:"sub"`
	Username   string         `json:"username,omitempty"`
	Issuer     string         `json:"iss"`
	ClientID   string         `json:"client_id,omitempty"`
	TokenUse   TokenUse       `json:"token_use"`
	TokenID    string         `json:"jti,omitempty"`
	Scopes     []string       `json:"scopes,omitempty"`
	Groups     []string       `json:"groups,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	IssuedAt   time.Time      `json:"iat"`
	ExpiresAt  time.Time      `json:"exp"`
}

func (p *Principal) ID() string {
	return p.Subject
}

func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

func (p *Principal) InGroup(group string) bool {
	return slices.Contains(p.Groups, group)
}

// Clone returns a copy that shares no slices or maps with p.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Scopes = slices.Clone(p.Scopes)
	c.Groups = slices.Clone(p.Groups)
	c.Attributes = maps.Clone(p.Attributes)
	return &c
}

// Credential describes a validated bearer token without retaining the token
// itself.
type Credential struct {
	TokenHash string    `json:"token_hash"`
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub"`
	ExpiresAt time.Time `json:"exp"`
	Scopes    []string  `json:"scopes,omitempty"`
}

// CredentialFor builds the credential record for a token hash and the
// principal it validated to.
func CredentialFor(tokenHash string, p *Principal) Credential {
	return Credential{
		TokenHash: tokenHash,
		Issuer:    p.Issuer,
		Subject:   p.Subject,
		ExpiresAt: p.ExpiresAt,
		Scopes:    slices.Clone(p.Scopes),
	}
}
