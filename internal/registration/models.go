// Package registration implements the device registration service that the
// push activation gateway talks to.
package registration

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/relaypush/relaypush/internal/api/models"
)

// Service errors.
var (
	ErrNotFound     = errors.New("device registration not found")
	ErrForbidden    = errors.New("device credentials do not match")
	ErrUnauthorized = errors.New("device credentials missing")
)

// ValidationError lists the invalid fields of a request.
type ValidationError struct {
	Fields []models.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid registration"
	}
	return "invalid registration: " + e.Fields[0].Field + " " + e.Fields[0].Message
}

// Registration is a stored device registration.
type Registration struct {
	ID            string
	ClientID      string
	Platform      string
	FormFactor    string
	Metadata      map[string]string
	TransportType models.TransportType
	DeviceToken   string
	SecretHash    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TokenLast4 returns the last 4 characters of the push token for display.
func (r *Registration) TokenLast4() string {
	if len(r.DeviceToken) < 4 {
		return r.DeviceToken
	}
	return r.DeviceToken[len(r.DeviceToken)-4:]
}

// MatchesSecret reports whether secret hashes to the stored hash.
func (r *Registration) MatchesSecret(secret string) bool {
	if r.SecretHash == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.SecretHash), []byte(hashSecret(secret))) == 1
}

func hashSecret(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ListOptions contains options for listing registrations.
type ListOptions struct {
	ClientID string
	Limit    int
	After    string
}

// ListResult contains a page of registrations.
type ListResult struct {
	Items      []*Registration
	NextCursor string
}

func copyRegistration(r *Registration) *Registration {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
