package registration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypush/relaypush/internal/api/models"
	"github.com/relaypush/relaypush/internal/registration"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []registration.LifecycleEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev registration.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []registration.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]registration.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newService(t *testing.T) (*registration.Service, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := registration.NewService(registration.ServiceConfig{
		Repository: registration.NewInMemoryRepository(),
		Tokens:     registration.NewTokenIssuer(registration.TokenConfig{SigningKey: "test-key", Issuer: "test"}),
		Publisher:  pub,
		Logger:     zerolog.Nop(),
	})
	return svc, pub
}

func registerRequest(id string) *models.DeviceRegistrationRequest {
	return &models.DeviceRegistrationRequest{
		ID:           id,
		ClientID:     "alice",
		Platform:     "ios",
		FormFactor:   "phone",
		DeviceSecret: "s3cret",
		Push: models.PushDetails{Recipient: models.PushRecipient{
			TransportType: models.TransportAPNS,
			DeviceToken:   "deadbeef",
		}},
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	resp, created, err := svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, "device-1", resp.ID)
	assert.Equal(t, "deadbeef", resp.Push.Recipient.DeviceToken)
	assert.NotEmpty(t, resp.DeviceIdentityToken.Token)
	assert.Greater(t, resp.DeviceIdentityToken.Expires, resp.DeviceIdentityToken.Issued)
	assert.Equal(t, []registration.EventType{registration.EventRegistered}, pub.types())

	require.NoError(t, svc.Authorize(ctx, "device-1", resp.DeviceIdentityToken.Token, ""))

	_, created, err = svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestService_RegisterRequiresSecretOfExistingDevice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, _, err := svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)

	other := registerRequest("device-1")
	other.DeviceSecret = "guess"
	_, _, err = svc.Register(ctx, other)
	assert.ErrorIs(t, err, registration.ErrForbidden)
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newService(t)

	req := registerRequest("")
	req.Push.Recipient.TransportType = "sms"
	req.Push.Recipient.DeviceToken = "not-hex"

	_, _, err := svc.Register(context.Background(), req)

	var verr *registration.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"id", "push.recipient.transportType", "push.recipient.deviceToken"}, fields)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	_, err := svc.Update(ctx, "device-1", registerRequest("device-1"))
	assert.ErrorIs(t, err, registration.ErrNotFound)

	_, _, err = svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)

	req := registerRequest("")
	req.DeviceSecret = ""
	req.Push.Recipient.DeviceToken = "cafe"
	reg, err := svc.Update(ctx, "device-1", req)
	require.NoError(t, err)
	assert.Equal(t, "cafe", reg.Push.Recipient.DeviceToken)

	require.NoError(t, svc.Authorize(ctx, "device-1", "", "s3cret"), "update keeps the secret")

	_, err = svc.Update(ctx, "device-1", registerRequest("device-2"))
	var verr *registration.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, []registration.EventType{registration.EventRegistered, registration.EventUpdated}, pub.types())
}

func TestService_Deregister(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	_, _, err := svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)

	require.NoError(t, svc.Deregister(ctx, "device-1"))
	assert.ErrorIs(t, svc.Deregister(ctx, "device-1"), registration.ErrNotFound)

	_, err = svc.Get(ctx, "device-1")
	assert.ErrorIs(t, err, registration.ErrNotFound)
	assert.Equal(t, []registration.EventType{registration.EventRegistered, registration.EventDeregistered}, pub.types())
}

func TestService_PublishFailureDoesNotFailCall(t *testing.T) {
	svc, pub := newService(t)
	pub.err = errors.New("pubsub down")

	_, _, err := svc.Register(context.Background(), registerRequest("device-1"))
	assert.NoError(t, err)
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	for _, id := range []string{"c", "a", "b"} {
		_, _, err := svc.Register(ctx, registerRequest(id))
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, registration.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a", page.Items[0].ID)
	require.NotNil(t, page.Meta.NextCursor)

	page, err = svc.List(ctx, registration.ListOptions{Limit: 2, After: *page.Meta.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].ID)
	assert.Nil(t, page.Meta.NextCursor)

	page, err = svc.List(ctx, registration.ListOptions{ClientID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestService_Authorize(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	resp, _, err := svc.Register(ctx, registerRequest("device-1"))
	require.NoError(t, err)
	other, _, err := svc.Register(ctx, registerRequest("device-2"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Authorize(ctx, "device-1", "", ""), registration.ErrUnauthorized)
	assert.ErrorIs(t, svc.Authorize(ctx, "device-1", other.DeviceIdentityToken.Token, ""), registration.ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "device-1", "garbage", ""), registration.ErrInvalidToken)
	assert.ErrorIs(t, svc.Authorize(ctx, "device-1", "", "wrong"), registration.ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "device-9", "", "s3cret"), registration.ErrNotFound)
	assert.NoError(t, svc.Authorize(ctx, "device-1", resp.DeviceIdentityToken.Token, "wrong"), "token wins over secret")
}

func TestTokenIssuer(t *testing.T) {
	issuer := registration.NewTokenIssuer(registration.TokenConfig{SigningKey: "k", Issuer: "iss", TTL: time.Hour})

	tok, err := issuer.Issue("device-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tok.ExpiresAt.Sub(tok.IssuedAt))

	claims, err := issuer.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "alice", claims.ClientID)

	otherKey := registration.NewTokenIssuer(registration.TokenConfig{SigningKey: "other", Issuer: "iss"})
	_, err = otherKey.Validate(tok.Token)
	assert.ErrorIs(t, err, registration.ErrInvalidToken)

	past := time.Now().Add(-2 * time.Hour)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, registration.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iss",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		DeviceID: "device-1",
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = issuer.Validate(expired)
	assert.ErrorIs(t, err, registration.ErrTokenExpired)
}
