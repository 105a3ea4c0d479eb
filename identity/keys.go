package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

// KeyPair is a signing key with its public half. Providers sign with it;
// tests and the fake provider use it to mint tokens.
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	Algorithm  string // RS256, RS384, RS512, ES256, ES384
}

// JWKS is a JSON Web Key Set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// GenerateRSAKeyPair generates an RS256 key pair. bits below 2048 are raised
// to 2048.
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("[GenerateRSAKeyPair] failed to generate RSA key: %w", err)
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  "RS256",
	}, nil
}

// GenerateECDSAKeyPair generates an ES256 key pair.
func GenerateECDSAKeyPair(keyID string) (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("[GenerateECDSAKeyPair] failed to generate ECDSA key: %w", err)
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  "ES256",
	}, nil
}

func (kp *KeyPair) SigningMethod() jwt.SigningMethod {
	switch kp.Algorithm {
	case "RS384":
		return jwt.SigningMethodRS384
	case "RS512":
		return jwt.SigningMethodRS512
	case "ES256":
		return jwt.SigningMethodES256
	case "ES384":
		return jwt.SigningMethodES384
	default:
		return jwt.SigningMethodRS256
	}
}

// Sign signs claims with the key pair and stamps the kid header.
func (kp *KeyPair) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(kp.SigningMethod(), claims)
	tok.Header["kid"] = kp.KeyID
	signed, err := tok.SignedString(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("[KeyPair.Sign] %w", err)
	}
	return signed, nil
}

// Key returns the public verification half.
func (kp *KeyPair) Key() Key {
	return Key{ID: kp.KeyID, Algorithm: kp.Algorithm, Public: kp.PublicKey}
}

// ToJWK converts the public key to JWK form.
func (kp *KeyPair) ToJWK() (*JWK, error) {
	jwk := &JWK{
		Kid: kp.KeyID,
		Use: "sig",
		Alg: kp.Algorithm,
	}

	switch pubKey := kp.PublicKey.(type) {
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes())
		jwk.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pubKey.E)).Bytes())

	case *ecdsa.PublicKey:
		size := (pubKey.Curve.Params().BitSize + 7) / 8
		jwk.Kty = "EC"
		jwk.Crv = pubKey.Curve.Params().Name
		jwk.X = base64.RawURLEncoding.EncodeToString(pubKey.X.FillBytes(make([]byte, size)))
		jwk.Y = base64.RawURLEncoding.EncodeToString(pubKey.Y.FillBytes(make([]byte, size)))

	default:
		return nil, errors.New("[KeyPair.ToJWK] unsupported public key type")
	}

	return jwk, nil
}

// ToJWKS publishes several key pairs as one document.
func ToJWKS(pairs ...*KeyPair) (*JWKS, error) {
	set := &JWKS{Keys: make([]JWK, 0, len(pairs))}
	for _, kp := range pairs {
		jwk, err := kp.ToJWK()
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}
