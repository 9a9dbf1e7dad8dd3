package registration

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/api/models"
)

// ServiceConfig holds the dependencies of the registration service.
type ServiceConfig struct {
	Repository Repository
	Tokens     *TokenIssuer

	// Publisher receives lifecycle events (optional).
	Publisher Publisher

	Logger zerolog.Logger
}

// Service provides device registration operations.
type Service struct {
	repo      Repository
	tokens    *TokenIssuer
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a new registration service.
func NewService(cfg ServiceConfig) *Service {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{
		repo:      cfg.Repository,
		tokens:    cfg.Tokens,
		publisher: publisher,
		logger:    cfg.Logger.With().Str("component", "registration").Logger(),
		now:       time.Now,
	}
}

// Register creates or replaces a registration and issues a new identity
// token. Re-registering an existing device requires its secret.
// Returns the registration and whether it was newly created.
func (s *Service) Register(ctx context.Context, req *models.DeviceRegistrationRequest) (*models.DeviceRegistrationResponse, bool, error) {
	if err := validate(req, true); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.Get(ctx, req.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("loading registration: %w", err)
	case existing.SecretHash != "" && !existing.MatchesSecret(req.DeviceSecret):
		return nil, false, ErrForbidden
	}

	now := s.now()
	reg := fromRequest(req, now)
	reg.SecretHash = hashSecret(req.DeviceSecret)

	created, err := s.repo.Upsert(ctx, reg)
	if err != nil {
		return nil, false, fmt.Errorf("saving registration: %w", err)
	}
	if existing != nil {
		reg.CreatedAt = existing.CreatedAt
	}

	token, err := s.tokens.Issue(reg.ID, reg.ClientID)
	if err != nil {
		return nil, false, err
	}

	s.publish(ctx, EventRegistered, reg)
	s.logger.Info().Str("device_id", reg.ID).Bool("created", created).Msg("device registered")

	return &models.DeviceRegistrationResponse{
		DeviceRegistration: toAPI(reg),
		DeviceIdentityToken: models.DeviceIdentityToken{
			Token:    token.Token,
			Issued:   token.IssuedAt.UnixMilli(),
			Expires:  token.ExpiresAt.UnixMilli(),
			ClientID: reg.ClientID,
		},
	}, created, nil
}

// Update replaces the details of an existing registration.
func (s *Service) Update(ctx context.Context, id string, req *models.DeviceRegistrationRequest) (*models.DeviceRegistration, error) {
	if req.ID == "" {
		req.ID = id
	}
	if req.ID != id {
		return nil, &ValidationError{Fields: []models.FieldError{{Field: "id", Message: "does not match path", Code: "mismatch"}}}
	}
	if err := validate(req, false); err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reg := fromRequest(req, s.now())
	reg.CreatedAt = existing.CreatedAt
	reg.SecretHash = existing.SecretHash
	if _, err := s.repo.Upsert(ctx, reg); err != nil {
		return nil, fmt.Errorf("saving registration: %w", err)
	}

	s.publish(ctx, EventUpdated, reg)
	s.logger.Info().Str("device_id", id).Msg("device registration updated")

	result := toAPI(reg)
	return &result, nil
}

// Deregister removes a registration.
func (s *Service) Deregister(ctx context.Context, id string) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, EventDeregistered, existing)
	s.logger.Info().Str("device_id", id).Msg("device deregistered")
	return nil
}

// Get retrieves a registration.
func (s *Service) Get(ctx context.Context, id string) (*models.DeviceRegistration, error) {
	reg, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := toAPI(reg)
	return &result, nil
}

// List retrieves a page of registrations.
func (s *Service) List(ctx context.Context, opts ListOptions) (*models.PagedDeviceRegistrations, error) {
	result, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	items := make([]models.DeviceRegistration, 0, len(result.Items))
	for _, reg := range result.Items {
		items = append(items, toAPI(reg))
	}

	var next *string
	if result.NextCursor != "" {
		next = &result.NextCursor
	}
	return &models.PagedDeviceRegistrations{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: opts.Limit, NextCursor: next},
	}, nil
}

// Authorize checks device credentials for id. An identity token takes
// precedence over a secret.
func (s *Service) Authorize(ctx context.Context, id, identityToken, secret string) error {
	switch {
	case identityToken != "":
		claims, err := s.tokens.Validate(identityToken)
		if err != nil {
			return err
		}
		if claims.DeviceID != id {
			return ErrForbidden
		}
		return nil
	case secret != "":
		reg, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !reg.MatchesSecret(secret) {
			return ErrForbidden
		}
		return nil
	default:
		return ErrUnauthorized
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, reg *Registration) {
	event := LifecycleEvent{
		Type:       typ,
		DeviceID:   reg.ID,
		ClientID:   reg.ClientID,
		Transport:  string(reg.TransportType),
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("device_id", reg.ID).Str("type", string(typ)).Msg("failed to publish lifecycle event")
	}
}

func validate(req *models.DeviceRegistrationRequest, requireToken bool) error {
	var fields []models.FieldError
	if req.ID == "" {
		fields = append(fields, models.FieldError{Field: "id", Message: "is required", Code: "required"})
	}
	if req.Platform == "" {
		fields = append(fields, models.FieldError{Field: "platform", Message: "is required", Code: "required"})
	}
	if req.FormFactor == "" {
		fields = append(fields, models.FieldError{Field: "formFactor", Message: "is required", Code: "required"})
	}
	if !req.Push.Recipient.TransportType.Valid() {
		fields = append(fields, models.FieldError{Field: "push.recipient.transportType", Message: "must be apns or fcm", Code: "invalid"})
	}
	token := req.Push.Recipient.DeviceToken
	switch {
	case token == "" && requireToken:
		fields = append(fields, models.FieldError{Field: "push.recipient.deviceToken", Message: "is required", Code: "required"})
	case token != "":
		if _, err := hex.DecodeString(token); err != nil {
			fields = append(fields, models.FieldError{Field: "push.recipient.deviceToken", Message: "must be hex encoded", Code: "invalid"})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fromRequest(req *models.DeviceRegistrationRequest, now time.Time) *Registration {
	return &Registration{
		ID:            req.ID,
		ClientID:      req.ClientID,
		Platform:      req.Platform,
		FormFactor:    req.FormFactor,
		Metadata:      req.Metadata,
		TransportType: req.Push.Recipient.TransportType,
		DeviceToken:   req.Push.Recipient.DeviceToken,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func toAPI(reg *Registration) models.DeviceRegistration {
	return models.DeviceRegistration{
		ID:         reg.ID,
		ClientID:   reg.ClientID,
		Platform:   reg.Platform,
		FormFactor: reg.FormFactor,
		Metadata:   reg.Metadata,
		Push: models.PushDetails{
			Recipient: models.PushRecipient{
				TransportType: reg.TransportType,
				DeviceToken:   reg.DeviceToken,
			},
			State: "ACTIVE",
		},
		CreatedAt: models.Timestamp(reg.CreatedAt),
		UpdatedAt: models.Timestamp(reg.UpdatedAt),
	}
}
