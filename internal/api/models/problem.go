package models

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Problem is an RFC 7807 body served as application/problem+json by the
// registration server and decoded by the gateway client.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference to the request that failed.
	Instance string `json:"instance,omitempty"`

	// Code is the service error code, finer grained than Status.
	Code int `json:"code,omitempty"`

	// TraceID is the request trace identifier for debugging.
	TraceID string `json:"traceId"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemType constants for standard error types.
const (
	ProblemTypeValidation      = "https://relaypush.io/problems/validation-error"
	ProblemTypeUnauthorized    = "https://relaypush.io/problems/unauthorized"
	ProblemTypeForbidden       = "https://relaypush.io/problems/forbidden"
	ProblemTypeNotFound        = "https://relaypush.io/problems/not-found"
	ProblemTypeConflict        = "https://relaypush.io/problems/conflict"
	ProblemTypeTooManyRequests = "https://relaypush.io/problems/too-many-requests"
	ProblemTypeInternal        = "https://relaypush.io/problems/internal-error"
	ProblemTypeUnavailable     = "https://relaypush.io/problems/service-unavailable"
)

// Service error codes carried in Problem.Code.
const (
	CodeBadRequest         = 40000
	CodeInvalidCredentials = 40101
	CodeDeviceTokenInvalid = 40102
	CodeDeviceForbidden    = 40300
	CodeDeviceNotFound     = 40400
	CodeRateLimited        = 42910
	CodeInternal           = 50000
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail adds a detail message to the Problem.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance adds the request instance URI to the Problem.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithCode sets the service error code.
func (p *Problem) WithCode(code int) *Problem {
	p.Code = code
	return p
}

// WithErrors adds field errors to the Problem.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Message returns the most specific human-readable text in p.
func (p *Problem) Message() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

func (p *Problem) Error() string {
	if p.Code != 0 {
		return fmt.Sprintf("%d %s (code %d)", p.Status, p.Message(), p.Code)
	}
	return fmt.Sprintf("%d %s", p.Status, p.Message())
}

var problemKinds = map[int]struct{ typ, title string }{
	http.StatusBadRequest:          {ProblemTypeValidation, "Validation error"},
	http.StatusUnauthorized:        {ProblemTypeUnauthorized, "Unauthorized"},
	http.StatusForbidden:           {ProblemTypeForbidden, "Forbidden"},
	http.StatusNotFound:            {ProblemTypeNotFound, "Not found"},
	http.StatusConflict:            {ProblemTypeConflict, "Conflict"},
	http.StatusTooManyRequests:     {ProblemTypeTooManyRequests, "Too many requests"},
	http.StatusInternalServerError: {ProblemTypeInternal, "Internal server error"},
	http.StatusServiceUnavailable:  {ProblemTypeUnavailable, "Service unavailable"},
}

func statusProblem(status int, traceID, detail string) *Problem {
	kind := problemKinds[status]
	return NewProblem(kind.typ, kind.title, status, traceID).WithDetail(detail)
}

// NewBadRequest creates a 400 problem with optional field errors.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	return statusProblem(http.StatusBadRequest, traceID, detail).WithErrors(errors)
}

// NewUnauthorized creates a 401 problem.
func NewUnauthorized(traceID, detail string) *Problem {
	return statusProblem(http.StatusUnauthorized, traceID, detail)
}

// NewForbidden creates a 403 problem.
func NewForbidden(traceID, detail string) *Problem {
	return statusProblem(http.StatusForbidden, traceID, detail)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return statusProblem(http.StatusNotFound, traceID, detail)
}

// NewConflict creates a 409 problem.
func NewConflict(traceID, detail string) *Problem {
	return statusProblem(http.StatusConflict, traceID, detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return statusProblem(http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return statusProblem(http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return statusProblem(http.StatusServiceUnavailable, traceID, detail)
}
