// Package push implements device activation for push notifications: the
// activation state machine, its persistence contract and the controller that
// bridges OS and caller callbacks into it.
package push

import (
	"bytes"
	"encoding/hex"
)

// TransportType identifies the push transport a device token belongs to.
type TransportType string

const (
	TransportAPNS TransportType = "apns"
	TransportFCM  TransportType = "fcm"
)

// OperationKind identifies the caller-facing operation a callback belongs to.
type OperationKind string

const (
	OperationActivate   OperationKind = "activate"
	OperationDeactivate OperationKind = "deactivate"
)

// DeviceIdentity is the local device as known to the service.
type DeviceIdentity struct {
	// DeviceID is the locally generated identifier of the device.
	DeviceID string

	// Token is the push token issued by the OS. Nil until the OS delivers one.
	Token []byte

	// UpdateToken is the credential returned by the service on registration.
	UpdateToken string

	// Secret authorizes update and deregister calls when no update token is held.
	Secret string
}

// HasToken reports whether an OS push token is known.
func (d DeviceIdentity) HasToken() bool {
	return len(d.Token) > 0
}

// IsRegistered reports whether the service has issued an update token.
func (d DeviceIdentity) IsRegistered() bool {
	return d.UpdateToken != ""
}

// SameToken reports whether token equals the current push token.
func (d DeviceIdentity) SameToken(token []byte) bool {
	return bytes.Equal(d.Token, token)
}

// TokenHex returns the push token hex encoded, as sent to the service.
func (d DeviceIdentity) TokenHex() string {
	return hex.EncodeToString(d.Token)
}

// Clone returns a deep copy so callers never share the token slice.
func (d DeviceIdentity) Clone() DeviceIdentity {
	c := d
	if d.Token != nil {
		c.Token = append([]byte(nil), d.Token...)
	}
	return c
}

// PushRecipient addresses push delivery to one device.
type PushRecipient struct {
	TransportType TransportType `json:"transportType"`
	DeviceToken   string        `json:"deviceToken,omitempty"`
}

// DeviceDetails is the registration sent to the service.
type DeviceDetails struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"clientId,omitempty"`
	Platform   string            `json:"platform"`
	FormFactor string            `json:"formFactor"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// DeviceSecret lets the service authorize later calls made before an
	// update token is known.
	DeviceSecret string `json:"deviceSecret,omitempty"`

	Push struct {
		Recipient PushRecipient `json:"recipient"`
	} `json:"push"`
}

// DeviceTemplate holds the static parts of DeviceDetails supplied by the app.
type DeviceTemplate struct {
	ClientID      string
	Platform      string
	FormFactor    string
	TransportType TransportType
	Metadata      map[string]string
}

// DefaultDeviceTemplate describes an iOS phone using APNs.
func DefaultDeviceTemplate() DeviceTemplate {
	return DeviceTemplate{
		Platform:      "ios",
		FormFactor:    "phone",
		TransportType: TransportAPNS,
	}
}

// Details builds the registration body for the given identity.
func (t DeviceTemplate) Details(device DeviceIdentity) DeviceDetails {
	details := DeviceDetails{
		ID:         device.DeviceID,
		ClientID:   t.ClientID,
		Platform:   t.Platform,
		FormFactor: t.FormFactor,

		DeviceSecret: device.Secret,
	}
	if len(t.Metadata) > 0 {
		details.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			details.Metadata[k] = v
		}
	}
	details.Push.Recipient = PushRecipient{
		TransportType: t.TransportType,
		DeviceToken:   device.TokenHex(),
	}
	return details
}

// PersistedRecord is the single durable slot: the current state and the
// identity it applies to, always written together.
type PersistedRecord struct {
	State  State
	Device DeviceIdentity
}

// Result is delivered to completion callbacks.
type Result struct {
	Kind   OperationKind
	Device DeviceIdentity
	Err    error
}

// Completion receives the outcome of an activate or deactivate call.
type Completion func(Result)
