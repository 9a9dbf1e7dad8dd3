package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidAPIKey is returned for keys not of the form "name:secret".
var ErrInvalidAPIKey = errors.New("api key must be of the form name:secret")

// Authorizer adds caller credentials to an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// APIKey authorizes with HTTP basic auth split from "name:secret".
type APIKey string

// Authorize sets the basic auth header.
func (k APIKey) Authorize(req *http.Request) error {
	name, secret, ok := strings.Cut(string(k), ":")
	if !ok || name == "" || secret == "" {
		return ErrInvalidAPIKey
	}
	req.SetBasicAuth(name, secret)
	return nil
}

// TokenSource returns a bearer token, typically fetched from the app backend.
type TokenSource func(ctx context.Context) (string, error)

// BearerToken authorizes with a token from Source.
type BearerToken struct {
	Source TokenSource
}

// StaticToken returns a BearerToken that always uses token.
func StaticToken(token string) BearerToken {
	return BearerToken{Source: func(context.Context) (string, error) { return token, nil }}
}

// Authorize sets the bearer auth header.
func (b BearerToken) Authorize(req *http.Request) error {
	if b.Source == nil {
		return errors.New("bearer token: no source")
	}
	token, err := b.Source(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
