package push

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by activation.
type ErrorKind uint8

const (
	// KindTransport is a network or HTTP failure reported by the gateway.
	KindTransport ErrorKind = iota + 1
	// KindOSRegistration is a platform push-registration failure.
	KindOSRegistration
	// KindPersistence is a state store read or write failure.
	KindPersistence
	// KindState is a caller request that the current lifecycle cannot serve.
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindOSRegistration:
		return "OSRegistrationError"
	case KindPersistence:
		return "PersistenceError"
	case KindState:
		return "StateError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Sentinels for errors.Is. Any *ErrorInfo of the same kind matches.
var (
	ErrTransport      = &ErrorInfo{Kind: KindTransport, Message: "transport error"}
	ErrOSRegistration = &ErrorInfo{Kind: KindOSRegistration, Message: "os registration error"}
	ErrPersistence    = &ErrorInfo{Kind: KindPersistence, Message: "persistence error"}
	ErrState          = &ErrorInfo{Kind: KindState, Message: "invalid state"}
)

// Well-known error codes.
const (
	CodeUnknown            = 50000
	CodeActivationCanceled = 40001
	CodeDeviceMismatch     = 40002
	CodeMachineClosed      = 40003
	CodeInvalidState       = 40004
	CodeStoreFailure       = 50001
)

// ErrorInfo is a structured error carried by failure events and callbacks.
// Only Kind, Code, StatusCode and Message are persisted; the cause is
// process-local.
type ErrorInfo struct {
	Kind       ErrorKind
	Code       int
	StatusCode int
	Message    string

	cause error
}

// NewErrorInfo builds an ErrorInfo wrapping cause.
func NewErrorInfo(kind ErrorKind, code int, message string, cause error) *ErrorInfo {
	return &ErrorInfo{Kind: kind, Code: code, Message: message, cause: cause}
}

func (e *ErrorInfo) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (code %d, status %d)", e.Kind, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
}

func (e *ErrorInfo) Unwrap() error {
	return e.cause
}

// Is matches sentinels by kind.
func (e *ErrorInfo) Is(target error) bool {
	t, ok := target.(*ErrorInfo)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// Equal compares the persisted fields.
func (e *ErrorInfo) Equal(o *ErrorInfo) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Kind == o.Kind && e.Code == o.Code && e.StatusCode == o.StatusCode && e.Message == o.Message
}

// AsErrorInfo converts any error into an ErrorInfo, defaulting to kind.
func AsErrorInfo(err error, kind ErrorKind) *ErrorInfo {
	if err == nil {
		return nil
	}
	var info *ErrorInfo
	if errors.As(err, &info) {
		return info
	}
	return NewErrorInfo(kind, CodeUnknown, err.Error(), err)
}

func persistenceError(op string, err error) *ErrorInfo {
	return NewErrorInfo(KindPersistence, CodeStoreFailure, op+": "+err.Error(), err)
}
