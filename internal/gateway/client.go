// Package gateway implements push.RegistrationGateway over the service's
// device registration REST endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaypush/relaypush/internal/api/models"
	"github.com/relaypush/relaypush/internal/httputil"
	"github.com/relaypush/relaypush/internal/push"
	"github.com/relaypush/relaypush/internal/resilience"
)

const (
	// DefaultBaseURL is the service REST endpoint.
	DefaultBaseURL = "https://rest.relaypush.io"

	registrationsPath = "/push/deviceRegistrations"

	// HeaderDeviceIdentityToken carries the base64 update token.
	HeaderDeviceIdentityToken = "X-Device-Identity-Token"
	// HeaderDeviceSecret carries the device secret.
	HeaderDeviceSecret = "X-Device-Secret"

	tracerName = "github.com/relaypush/relaypush/internal/gateway"
)

// ClientConfig holds configuration for the registration gateway.
type ClientConfig struct {
	// BaseURL is the primary endpoint (optional, defaults to DefaultBaseURL).
	BaseURL string

	// FallbackHosts are tried in order when the primary host is unreachable,
	// answers with 5xx or has an open circuit.
	FallbackHosts []string

	// Auth adds caller credentials to register calls (optional).
	Auth Authorizer

	// HTTP is the per-host client template. Name and Registry are set per host.
	HTTP resilience.ClientConfig

	// Registry tracks the health of every host (optional).
	Registry *resilience.Registry

	// Logger for gateway operations.
	Logger zerolog.Logger
}

// Client is the HTTP registration gateway.
type Client struct {
	baseURL  *url.URL
	hosts    []string
	clients  map[string]*resilience.Client
	registry *resilience.Registry
	auth     Authorizer
	logger   zerolog.Logger
	tracer   trace.Tracer
}

var _ push.RegistrationGateway = (*Client)(nil)

// NewClient creates a registration gateway.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = resilience.NewRegistry()
	}

	hosts := append([]string{base.Host}, cfg.FallbackHosts...)
	clients := make(map[string]*resilience.Client, len(hosts))
	for _, host := range hosts {
		hc := cfg.HTTP
		if hc.Name == "" && hc.Timeout == 0 {
			hc = resilience.DefaultClientConfig(host)
		}
		hc.Name = host
		hc.Registry = registry
		if hc.CircuitBreaker != nil {
			cb := *hc.CircuitBreaker
			cb.Name = host
			hc.CircuitBreaker = &cb
		}
		clients[host] = resilience.NewClient(hc)
	}

	return &Client{
		baseURL:  base,
		hosts:    hosts,
		clients:  clients,
		registry: registry,
		auth:     cfg.Auth,
		logger:   cfg.Logger.With().Str("component", "gateway").Logger(),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Health returns the health of every configured host.
func (c *Client) Health() []*resilience.HostHealth {
	return c.registry.GetAllHealth()
}

// Register creates the device registration and returns its update token.
func (c *Client) Register(ctx context.Context, details push.DeviceDetails) (string, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Register", trace.WithAttributes(attribute.String("device.id", details.ID)))
	defer span.End()

	body, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encoding registration: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, registrationsPath, nil, body)
	if err != nil {
		return "", err
	}
	if c.auth != nil {
		if err := c.auth.Authorize(req); err != nil {
			return "", c.fail(span, push.NewErrorInfo(push.KindTransport, push.CodeUnknown, "authorizing request: "+err.Error(), err))
		}
	}

	resp, err := c.do(req)
	if err != nil {
		return "", c.fail(span, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.fail(span, responseError(resp))
	}

	var reg models.DeviceRegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return "", c.fail(span, push.NewErrorInfo(push.KindTransport, push.CodeUnknown, "decoding response: "+err.Error(), err))
	}

	c.logger.Info().Str("device_id", details.ID).Msg("device registered")
	return reg.DeviceIdentityToken.Token, nil
}

// Update replaces the registration of device with details.
func (c *Client) Update(ctx context.Context, details push.DeviceDetails, device push.DeviceIdentity) error {
	ctx, span := c.tracer.Start(ctx, "gateway.Update", trace.WithAttributes(attribute.String("device.id", device.DeviceID)))
	defer span.End()

	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, registrationsPath+"/"+url.PathEscape(device.DeviceID), nil, body)
	if err != nil {
		return err
	}
	setDeviceAuth(req, device)

	resp, err := c.do(req)
	if err != nil {
		return c.fail(span, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.fail(span, responseError(resp))
	}

	c.logger.Info().Str("device_id", device.DeviceID).Msg("device registration updated")
	return nil
}

// Deregister removes the registration of device. A registration the service
// does not know is treated as removed.
func (c *Client) Deregister(ctx context.Context, device push.DeviceIdentity) error {
	ctx, span := c.tracer.Start(ctx, "gateway.Deregister", trace.WithAttributes(attribute.String("device.id", device.DeviceID)))
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodDelete, registrationsPath, url.Values{"deviceId": {device.DeviceID}}, nil)
	if err != nil {
		return err
	}
	setDeviceAuth(req, device)

	resp, err := c.do(req)
	if err != nil {
		return c.fail(span, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		c.logger.Info().Str("device_id", device.DeviceID).Int("status", resp.StatusCode).Msg("device deregistered")
		return nil
	default:
		return c.fail(span, responseError(resp))
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	u := *c.baseURL
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req to the first usable host. Network errors, open circuits and
// 5xx answers move on to the next host; the last outcome is returned.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for i, host := range c.hosts {
		last := i == len(c.hosts)-1
		if !last && !c.registry.Available(host) {
			c.logger.Debug().Str("host", host).Msg("skipping host with open circuit")
			continue
		}

		attempt, err := forHost(req, host, i == 0)
		if err != nil {
			return nil, push.NewErrorInfo(push.KindTransport, push.CodeUnknown, err.Error(), err)
		}

		resp, err := c.clients[host].Do(attempt)
		if err == nil && (resp.StatusCode < 500 || last) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = responseError(resp)
			resp.Body.Close()
		}
		if last {
			break
		}
		c.logger.Warn().Err(lastErr).Str("host", host).Msg("host failed, trying fallback")
	}

	if errors.Is(lastErr, resilience.ErrCircuitOpen) {
		return nil, push.NewErrorInfo(push.KindTransport, push.CodeUnknown, "all hosts unavailable", lastErr)
	}
	var info *push.ErrorInfo
	if errors.As(lastErr, &info) {
		return nil, info
	}
	return nil, push.NewErrorInfo(push.KindTransport, push.CodeUnknown, fmt.Sprintf("executing request: %v", lastErr), lastErr)
}

// forHost prepares req for host. Fallback hosts get a fresh body.
func forHost(req *http.Request, host string, primary bool) (*http.Request, error) {
	if primary {
		return req, nil
	}
	r := httputil.ReplaceHost(req, host)
	if r == req {
		return nil, fmt.Errorf("invalid fallback host %q", host)
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

func setDeviceAuth(req *http.Request, device push.DeviceIdentity) {
	switch {
	case device.UpdateToken != "":
		req.Header.Set(HeaderDeviceIdentityToken, base64.StdEncoding.EncodeToString([]byte(device.UpdateToken)))
	case device.Secret != "":
		req.Header.Set(HeaderDeviceSecret, device.Secret)
	}
}

// responseError maps a non-success response, usually problem+json, to an
// ErrorInfo. The body is consumed.
func responseError(resp *http.Response) *push.ErrorInfo {
	info := &push.ErrorInfo{
		Kind:       push.KindTransport,
		Code:       resp.StatusCode * 100,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var problem models.Problem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&problem); err == nil {
		if problem.Code != 0 {
			info.Code = problem.Code
		}
		if msg := problem.Message(); msg != "" {
			info.Message = msg
		}
	}
	return info
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn().Err(err).Msg("registration call failed")
	return err
}
