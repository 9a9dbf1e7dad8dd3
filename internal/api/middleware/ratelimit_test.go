package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaypush/relaypush/internal/api/middleware"
	"github.com/relaypush/relaypush/internal/api/models"
)

func TestRateLimitByIP(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/push/deviceRegistrations", http.NoBody)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.1.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.1.0.1:1001").Code)

	rec := send("10.1.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, models.CodeRateLimited, decodeProblem(t, rec).Code)

	assert.Equal(t, http.StatusOK, send("10.1.0.2:1000").Code, "other clients are unaffected")
}

func TestRateLimitByDevice(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second}
	limited := middleware.RateLimitByDevice(cfg)(okHandler())

	authz := authorizerFunc(func(_ context.Context, _, _, _ string) error { return nil })
	handler := middleware.DeviceAuth(authz, func(r *http.Request) string {
		return r.URL.Query().Get("deviceId")
	})(limited)

	send := func(device string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/push/deviceRegistrations?deviceId="+device, http.NoBody)
		req.RemoteAddr = "10.2.0.1:1000"
		req.Header.Set(middleware.HeaderDeviceSecret, "s")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("a").Code)
	assert.Equal(t, http.StatusOK, send("b").Code, "same IP, different device")

	rec := send("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}
