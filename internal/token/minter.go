package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pin-auth-service/internal/config"
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// AccessClaims is the payload of a signed access token. DID carries the
// device the token was minted for so downstream services can scope access
// per device.
type AccessClaims struct {
	DID  string `json:"did,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Minter issues opaque refresh/device tokens and signed HS256 access tokens.
type Minter struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	signingKey []byte
}

func NewMinter(cfg *config.Config) *Minter {
	return &Minter{
		issuer:     cfg.JWT.Issuer,
		accessTTL:  cfg.JWT.AccessTTL,
		refreshTTL: cfg.JWT.RefreshTTL,
		signingKey: []byte(cfg.JWT.SigningKey),
	}
}

func (m *Minter) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Minter) RefreshTTL() time.Duration { return m.refreshTTL }

// NewOpaqueToken returns a fresh 256-bit random token. Used for refresh
// tokens and device tokens; only a digest of the value is ever stored.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MintAccess signs a short-lived HS256 access token for the given user and
// device. now is passed in so callers control the clock.
func (m *Minter) MintAccess(userID, deviceID, role string, now time.Time) (string, error) {
	if len(m.signingKey) == 0 {
		return "", errors.New("jwt signing key not configured")
	}
	claims := AccessClaims{
		DID:  deviceID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// ParseAccess verifies the signature and registered claims of an access
// token and returns its claims.
func (m *Minter) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
