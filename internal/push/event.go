package push

// EventTag identifies an Event variant on the wire.
type EventTag uint8

const (
	TagCalledActivate EventTag = iota + 1
	TagCalledDeactivate
	TagGotPushDeviceDetails
	TagGotDeviceRegistration
	TagGettingDeviceRegistrationFailed
	TagRegistrationUpdated
	TagUpdatingRegistrationFailed
	TagDeregistered
	TagDeregistrationFailed
)

var eventNames = map[EventTag]string{
	TagCalledActivate:                  "CalledActivate",
	TagCalledDeactivate:                "CalledDeactivate",
	TagGotPushDeviceDetails:            "GotPushDeviceDetails",
	TagGotDeviceRegistration:           "GotDeviceRegistration",
	TagGettingDeviceRegistrationFailed: "GettingDeviceRegistrationFailed",
	TagRegistrationUpdated:             "RegistrationUpdated",
	TagUpdatingRegistrationFailed:      "UpdatingRegistrationFailed",
	TagDeregistered:                    "Deregistered",
	TagDeregistrationFailed:            "DeregistrationFailed",
}

func (t EventTag) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "UnknownEvent"
}

// Event drives the activation state machine. The set of variants is closed.
type Event interface {
	Tag() EventTag
	isEvent()
}

// CalledActivate is sent when the caller asks to activate push.
type CalledActivate struct{}

// CalledDeactivate is sent when the caller asks to deactivate push.
type CalledDeactivate struct{}

// GotPushDeviceDetails carries a push token delivered by the OS.
type GotPushDeviceDetails struct {
	Token []byte
}

// GotDeviceRegistration carries the update token returned by the service.
type GotDeviceRegistration struct {
	UpdateToken string
}

// GettingDeviceRegistrationFailed reports a failed register call or OS
// registration.
type GettingDeviceRegistrationFailed struct {
	Err *ErrorInfo
}

// RegistrationUpdated reports a successful update call.
type RegistrationUpdated struct{}

// UpdatingRegistrationFailed reports a failed update call.
type UpdatingRegistrationFailed struct {
	Err *ErrorInfo
}

// Deregistered reports a successful deregister call.
type Deregistered struct{}

// DeregistrationFailed reports a failed deregister call.
type DeregistrationFailed struct {
	Err *ErrorInfo
}

func (CalledActivate) Tag() EventTag                  { return TagCalledActivate }
func (CalledDeactivate) Tag() EventTag                { return TagCalledDeactivate }
func (GotPushDeviceDetails) Tag() EventTag            { return TagGotPushDeviceDetails }
func (GotDeviceRegistration) Tag() EventTag           { return TagGotDeviceRegistration }
func (GettingDeviceRegistrationFailed) Tag() EventTag { return TagGettingDeviceRegistrationFailed }
func (RegistrationUpdated) Tag() EventTag             { return TagRegistrationUpdated }
func (UpdatingRegistrationFailed) Tag() EventTag      { return TagUpdatingRegistrationFailed }
func (Deregistered) Tag() EventTag                    { return TagDeregistered }
func (DeregistrationFailed) Tag() EventTag            { return TagDeregistrationFailed }

func (CalledActivate) isEvent()                  {}
func (CalledDeactivate) isEvent()                {}
func (GotPushDeviceDetails) isEvent()            {}
func (GotDeviceRegistration) isEvent()           {}
func (GettingDeviceRegistrationFailed) isEvent() {}
func (RegistrationUpdated) isEvent()             {}
func (UpdatingRegistrationFailed) isEvent()      {}
func (Deregistered) isEvent()                    {}
func (DeregistrationFailed) isEvent()            {}

// deferrable events come from callers or the OS rather than from a gateway
// completion, so they wait while a gateway call is outstanding.
func deferrable(ev Event) bool {
	switch ev.(type) {
	case CalledActivate, CalledDeactivate, GotPushDeviceDetails:
		return true
	default:
		return false
	}
}

// operationOf returns the caller operation behind ev, if ev came from a
// caller.
func operationOf(ev Event) (OperationKind, bool) {
	switch ev.(type) {
	case CalledActivate:
		return OperationActivate, true
	case CalledDeactivate:
		return OperationDeactivate, true
	default:
		return "", false
	}
}
