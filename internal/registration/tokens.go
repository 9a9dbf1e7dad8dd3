package registration

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long device identity tokens are valid.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid device identity token")
	ErrTokenExpired = errors.New("device identity token has expired")
)

// TokenClaims are the claims of a device identity token.
type TokenClaims struct {
	jwt.RegisteredClaims

	// DeviceID is the device the token authorizes.
	DeviceID string `json:"did"`

	// ClientID is the client identity bound at registration, if any.
	ClientID string `json:"cid,omitempty"`
}

// IssuedToken is a signed device identity token.
type IssuedToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig holds configuration for the token issuer.
type TokenConfig struct {
	// SigningKey is the HS256 secret.
	SigningKey string

	// Issuer is the issuer claim, e.g. "https://rest.relaypush.io".
	Issuer string

	// TTL is the token lifetime. Default: DefaultTokenTTL
	TTL time.Duration
}

// TokenIssuer signs and validates device identity tokens.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue creates a token for the device.
func (s *TokenIssuer) Issue(deviceID, clientID string) (IssuedToken, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        tokenID(),
		},
		DeviceID: deviceID,
		ClientID: clientID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("signing device token: %w", err)
	}
	return IssuedToken{Token: signed, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Validate checks a token and returns its claims.
func (s *TokenIssuer) Validate(token string) (*TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func tokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
