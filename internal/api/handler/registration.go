package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/api/middleware"
	"github.com/relaypush/relaypush/internal/api/models"
	"github.com/relaypush/relaypush/internal/api/response"
	"github.com/relaypush/relaypush/internal/registration"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RegistrationHandler serves /push/deviceRegistrations.
type RegistrationHandler struct {
	service *registration.Service
	logger  zerolog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(service *registration.Service, logger zerolog.Logger) *RegistrationHandler {
	return &RegistrationHandler{service: service, logger: logger}
}

// PathDeviceID reads the device ID from the route.
func PathDeviceID(r *http.Request) string {
	return chi.URLParam(r, "deviceId")
}

// QueryDeviceID reads the device ID from the deviceId query parameter.
func QueryDeviceID(r *http.Request) string {
	return r.URL.Query().Get("deviceId")
}

// Register handles POST /push/deviceRegistrations.
// Returns 201 for a new device and 200 when an existing one is replaced.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input models.DeviceRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	result, created, err := h.service.Register(r.Context(), &input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !created {
		response.JSON(w, r, http.StatusOK, result)
		return
	}
	response.Created(w, r, "/push/deviceRegistrations/"+result.ID, result)
}

// List handles GET /push/deviceRegistrations.
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "must be between 1 and 200", Code: "range"},
			})
			return
		}
		limit = n
	}

	page, err := h.service.List(r.Context(), registration.ListOptions{
		ClientID: q.Get("clientId"),
		Limit:    limit,
		After:    q.Get("cursor"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Get handles GET /push/deviceRegistrations/{deviceId}.
func (h *RegistrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Get(r.Context(), middleware.GetDeviceID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Update handles PATCH /push/deviceRegistrations/{deviceId}.
func (h *RegistrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input models.DeviceRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	result, err := h.service.Update(r.Context(), middleware.GetDeviceID(r.Context()), &input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Deregister handles DELETE /push/deviceRegistrations?deviceId=.
func (h *RegistrationHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deregister(r.Context(), middleware.GetDeviceID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

func (h *RegistrationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *registration.ValidationError
	switch {
	case errors.As(err, &validation):
		response.BadRequest(w, r, "invalid device registration", validation.Fields)
	case errors.Is(err, registration.ErrNotFound):
		response.NotFound(w, r, "unknown device")
	case errors.Is(err, registration.ErrForbidden):
		response.Forbidden(w, r, "credentials do not match device")
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("registration request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
