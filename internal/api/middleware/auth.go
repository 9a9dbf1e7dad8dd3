package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/relaypush/relaypush/internal/api/models"
	"github.com/relaypush/relaypush/internal/registration"
)

// Device credential headers.
const (
	HeaderDeviceIdentityToken = "X-Device-Identity-Token"
	HeaderDeviceSecret        = "X-Device-Secret"
)

// deviceIDKey is the context key for the authorized device ID.
type deviceIDKey struct{}

// DeviceAuthorizer checks device credentials.
type DeviceAuthorizer interface {
	Authorize(ctx context.Context, deviceID, identityToken, secret string) error
}

// AppAuth accepts requests carrying HTTP basic credentials equal to one of
// keys, each of the form "name:secret". With no keys every request passes.
func AppAuth(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			name, secret, ok := r.BasicAuth()
			if !ok {
				writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeInvalidCredentials, "missing api key")
				return
			}
			presented := []byte(name + ":" + secret)
			for _, key := range keys {
				if subtle.ConstantTimeCompare(presented, []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeInvalidCredentials, "invalid api key")
		})
	}
}

// DeviceAuth authorizes requests for the device named by deviceID using the
// base64 identity token header or the device secret header.
func DeviceAuth(authz DeviceAuthorizer, deviceID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := deviceID(r)
			if id == "" {
				traceID := GetRequestID(r.Context())
				problem := models.NewBadRequest(traceID, "device id is required", nil).WithCode(models.CodeBadRequest)
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			var token string
			if raw := r.Header.Get(HeaderDeviceIdentityToken); raw != "" {
				decoded, err := base64.StdEncoding.DecodeString(raw)
				if err != nil {
					writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeDeviceTokenInvalid, "identity token is not base64")
					return
				}
				token = string(decoded)
			}

			err := authz.Authorize(r.Context(), id, token, r.Header.Get(HeaderDeviceSecret))
			switch {
			case err == nil:
			case errors.Is(err, registration.ErrNotFound):
				traceID := GetRequestID(r.Context())
				problem := models.NewNotFound(traceID, "unknown device").WithCode(models.CodeDeviceNotFound)
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			case errors.Is(err, registration.ErrForbidden):
				writeAuthProblem(w, r, http.StatusForbidden, models.CodeDeviceForbidden, "credentials do not match device")
				return
			case errors.Is(err, registration.ErrTokenExpired):
				writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeDeviceTokenInvalid, "identity token has expired")
				return
			case errors.Is(err, registration.ErrInvalidToken):
				writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeDeviceTokenInvalid, "invalid identity token")
				return
			default:
				writeAuthProblem(w, r, http.StatusUnauthorized, models.CodeInvalidCredentials, "missing device credentials")
				return
			}

			ctx := context.WithValue(r.Context(), deviceIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthProblem writes a 401 or 403 problem.
// This is implemented directly here to avoid import cycle with response package.
func writeAuthProblem(w http.ResponseWriter, r *http.Request, status, code int, detail string) {
	traceID := GetRequestID(r.Context())
	var problem *models.Problem
	if status == http.StatusForbidden {
		problem = models.NewForbidden(traceID, detail)
	} else {
		problem = models.NewUnauthorized(traceID, detail)
	}
	problem.Code = code
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetDeviceID retrieves the authorized device ID from the context.
// Returns an empty string if the request was not device authorized.
func GetDeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey{}).(string); ok {
		return id
	}
	return ""
}
