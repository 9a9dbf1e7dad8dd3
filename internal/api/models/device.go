package models

// PushRecipient addresses push delivery to one device.
type PushRecipient struct {
	TransportType TransportType `json:"transportType"`
	DeviceToken   string        `json:"deviceToken,omitempty"`
}

// PushDetails is the push section of a registration.
type PushDetails struct {
	Recipient PushRecipient `json:"recipient"`
	State     string        `json:"state,omitempty"`
}

// DeviceRegistrationRequest is the body of POST /push/deviceRegistrations and
// PATCH /push/deviceRegistrations/{id}.
type DeviceRegistrationRequest struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"clientId,omitempty"`
	Platform   string            `json:"platform"`
	FormFactor string            `json:"formFactor"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Push       PushDetails       `json:"push"`

	// DeviceSecret authorizes later calls made without an identity token.
	DeviceSecret string `json:"deviceSecret,omitempty"`
}

// DeviceRegistration is a stored registration as returned by the API.
type DeviceRegistration struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"clientId,omitempty"`
	Platform   string            `json:"platform"`
	FormFactor string            `json:"formFactor"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Push       PushDetails       `json:"push"`
	CreatedAt  Timestamp         `json:"createdAt"`
	UpdatedAt  Timestamp         `json:"updatedAt"`
}

// DeviceIdentityToken authorizes later update and deregister calls for one
// device.
type DeviceIdentityToken struct {
	Token    string `json:"token"`
	Issued   int64  `json:"issued"`
	Expires  int64  `json:"expires"`
	ClientID string `json:"clientId,omitempty"`
}

// DeviceRegistrationResponse is returned on successful registration.
type DeviceRegistrationResponse struct {
	DeviceRegistration
	DeviceIdentityToken DeviceIdentityToken `json:"deviceIdentityToken"`
}

// PagedDeviceRegistrations is a page of registrations.
type PagedDeviceRegistrations struct {
	Items []DeviceRegistration `json:"items"`
	Meta  PagedResponseMeta    `json:"meta"`
}
