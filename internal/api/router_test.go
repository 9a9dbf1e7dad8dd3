package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypush/relaypush/internal/api"
	"github.com/relaypush/relaypush/internal/api/handler"
	"github.com/relaypush/relaypush/internal/api/middleware"
	"github.com/relaypush/relaypush/internal/api/models"
	"github.com/relaypush/relaypush/internal/registration"
)

const testAPIKey = "app.key:secret"

func newTestRouter(t *testing.T, checks ...handler.Check) http.Handler {
	t.Helper()
	service := registration.NewService(registration.ServiceConfig{
		Repository: registration.NewInMemoryRepository(),
		Tokens: registration.NewTokenIssuer(registration.TokenConfig{
			SigningKey: "test-secret-key-for-testing-only",
			Issuer:     "relaypush-test",
		}),
		Logger: zerolog.New(io.Discard),
	})
	return api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Service:   service,
		APIKeys:   []string{testAPIKey},
		Checks:    checks,
	})
}

func registrationBody(id, token string) *models.DeviceRegistrationRequest {
	req := &models.DeviceRegistrationRequest{
		ID:           id,
		ClientID:     "client-1",
		Platform:     "ios",
		FormFactor:   "phone",
		DeviceSecret: "s3cret",
	}
	req.Push.Recipient = models.PushRecipient{TransportType: models.TransportAPNS, DeviceToken: token}
	return req
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func withAppKey(req *http.Request) {
	req.SetBasicAuth("app.key", "secret")
}

func register(t *testing.T, router http.Handler, id string) models.DeviceRegistrationResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/push/deviceRegistrations", registrationBody(id, "deadbeef"), withAppKey)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.DeviceRegistrationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func problemOf(t *testing.T, w *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	var p models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/ops/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	healthy := newTestRouter(t, handler.Check{Name: "database", Probe: func(context.Context) error { return nil }})
	assert.Equal(t, http.StatusOK, doJSON(t, healthy, http.MethodGet, "/ops/ready", nil, nil).Code)

	failing := newTestRouter(t, handler.Check{Name: "database", Probe: func(context.Context) error {
		return errors.New("connection refused")
	}})
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, failing, http.MethodGet, "/ops/ready", nil, nil).Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	router := newTestRouter(t,
		handler.Check{Name: "database", Probe: func(context.Context) error { return nil }},
		handler.Check{Name: "pubsub", Probe: func(context.Context) error { return errors.New("topic missing") }},
	)

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, router, http.MethodGet, "/ops/status", nil, nil).Code)

	w := doJSON(t, router, http.MethodGet, "/ops/status", nil, withAppKey)
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.Len(t, status.Subsystems, 2)
	assert.Equal(t, models.HealthStatusOK, status.Subsystems[0].Status)
	assert.Equal(t, models.HealthStatusFail, status.Subsystems[1].Status)
	require.NotNil(t, status.Subsystems[1].Detail)
	assert.Equal(t, "topic missing", *status.Subsystems[1].Detail)
}

func TestRouter_Register(t *testing.T) {
	router := newTestRouter(t)

	resp := register(t, router, "device-1")

	assert.Equal(t, "device-1", resp.ID)
	assert.Equal(t, "deadbeef", resp.Push.Recipient.DeviceToken)
	assert.NotEmpty(t, resp.DeviceIdentityToken.Token)
	assert.Greater(t, resp.DeviceIdentityToken.Expires, resp.DeviceIdentityToken.Issued)
}

func TestRouter_Register_ReplaceReturnsOK(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "device-1")

	w := doJSON(t, router, http.MethodPost, "/push/deviceRegistrations", registrationBody("device-1", "cafe"), withAppKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Register_WrongSecret(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "device-1")

	body := registrationBody("device-1", "cafe")
	body.DeviceSecret = "other"
	w := doJSON(t, router, http.MethodPost, "/push/deviceRegistrations", body, withAppKey)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.CodeDeviceForbidden, problemOf(t, w).Code)
}

func TestRouter_Register_RequiresAppKey(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/push/deviceRegistrations", registrationBody("device-1", "deadbeef"), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.CodeInvalidCredentials, problemOf(t, w).Code)
}

func TestRouter_Register_ValidationError(t *testing.T) {
	router := newTestRouter(t)

	body := registrationBody("", "not-hex")
	w := doJSON(t, router, http.MethodPost, "/push/deviceRegistrations", body, withAppKey)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	problem := problemOf(t, w)
	assert.Equal(t, models.CodeBadRequest, problem.Code)

	fields := make([]string, 0, len(problem.Errors))
	for _, fe := range problem.Errors {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"id", "push.recipient.deviceToken"}, fields)
}

func TestRouter_Register_InvalidJSON(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/push/deviceRegistrations", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	withAppKey(req)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_UpdateWithIdentityToken(t *testing.T) {
	router := newTestRouter(t)
	resp := register(t, router, "device-1")
	token := base64.StdEncoding.EncodeToString([]byte(resp.DeviceIdentityToken.Token))

	w := doJSON(t, router, http.MethodPatch, "/push/deviceRegistrations/device-1", registrationBody("device-1", "0123"), func(r *http.Request) {
		r.Header.Set(middleware.HeaderDeviceIdentityToken, token)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.DeviceRegistration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "0123", updated.Push.Recipient.DeviceToken)
}

func TestRouter_UpdateOtherDeviceForbidden(t *testing.T) {
	router := newTestRouter(t)
	resp := register(t, router, "device-1")
	register(t, router, "device-2")
	token := base64.StdEncoding.EncodeToString([]byte(resp.DeviceIdentityToken.Token))

	w := doJSON(t, router, http.MethodPatch, "/push/deviceRegistrations/device-2", registrationBody("device-2", "0123"), func(r *http.Request) {
		r.Header.Set(middleware.HeaderDeviceIdentityToken, token)
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_GetWithSecret(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "device-1")

	w := doJSON(t, router, http.MethodGet, "/push/deviceRegistrations/device-1", nil, func(r *http.Request) {
		r.Header.Set(middleware.HeaderDeviceSecret, "s3cret")
	})
	require.Equal(t, http.StatusOK, w.Code)

	var reg models.DeviceRegistration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.Equal(t, "ACTIVE", reg.Push.State)
}

func TestRouter_Deregister(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "device-1")
	withSecret := func(r *http.Request) { r.Header.Set(middleware.HeaderDeviceSecret, "s3cret") }

	w := doJSON(t, router, http.MethodDelete, "/push/deviceRegistrations?deviceId=device-1", nil, withSecret)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/push/deviceRegistrations?deviceId=device-1", nil, withSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeDeviceNotFound, problemOf(t, w).Code)
}

func TestRouter_Deregister_MissingDeviceID(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodDelete, "/push/deviceRegistrations", nil, func(r *http.Request) {
		r.Header.Set(middleware.HeaderDeviceSecret, "s3cret")
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_List(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "device-1")
	register(t, router, "device-2")
	register(t, router, "device-3")

	w := doJSON(t, router, http.MethodGet, "/push/deviceRegistrations?limit=2", nil, withAppKey)
	require.Equal(t, http.StatusOK, w.Code)

	var page models.PagedDeviceRegistrations
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.Meta.NextCursor)

	w = doJSON(t, router, http.MethodGet, "/push/deviceRegistrations?limit=2&cursor="+*page.Meta.NextCursor, nil, withAppKey)
	require.Equal(t, http.StatusOK, w.Code)
	page = models.PagedDeviceRegistrations{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "device-3", page.Items[0].ID)
	assert.Nil(t, page.Meta.NextCursor)
}

func TestRouter_List_InvalidLimit(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/push/deviceRegistrations?limit=0", nil, withAppKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/ops/health", nil, func(r *http.Request) {
		r.Header.Set(middleware.HeaderRequestID, "custom-request-id")
	})
	assert.Equal(t, "custom-request-id", w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/me", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
