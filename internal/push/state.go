package push

// StateTag identifies a State variant on the wire. Values are persisted and
// must never be renumbered.
type StateTag uint8

const (
	TagNotActivated StateTag = iota + 1
	TagWaitingForPushDeviceDetails
	TagWaitingForDeviceRegistration
	TagWaitingForNewPushDeviceDetails
	TagWaitingForRegistrationUpdate
	TagAfterRegistrationUpdateFailed
	TagWaitingForDeregistration
	TagAfterDeregistrationFailed
	TagActivated
)

var stateNames = map[StateTag]string{
	TagNotActivated:                   "NotActivated",
	TagWaitingForPushDeviceDetails:    "WaitingForPushDeviceDetails",
	TagWaitingForDeviceRegistration:   "WaitingForDeviceRegistration",
	TagWaitingForNewPushDeviceDetails: "WaitingForNewPushDeviceDetails",
	TagWaitingForRegistrationUpdate:   "WaitingForRegistrationUpdate",
	TagAfterRegistrationUpdateFailed:  "AfterRegistrationUpdateFailed",
	TagWaitingForDeregistration:       "WaitingForDeregistration",
	TagAfterDeregistrationFailed:      "AfterDeregistrationFailed",
	TagActivated:                      "Activated",
}

func (t StateTag) String() string {
	if name, ok := stateNames[t]; ok {
		return name
	}
	return "UnknownState"
}

// State is the persisted lifecycle position. The set of variants is closed.
type State interface {
	Tag() StateTag
	isState()
}

type (
	// NotActivated is the initial state.
	NotActivated struct{}
	// WaitingForPushDeviceDetails waits for the OS to deliver a token.
	WaitingForPushDeviceDetails struct{}
	// WaitingForDeviceRegistration has a register call outstanding.
	WaitingForDeviceRegistration struct{}
	// WaitingForNewPushDeviceDetails is registered but waits to confirm the
	// current OS token.
	WaitingForNewPushDeviceDetails struct{}
	// WaitingForRegistrationUpdate has an update call outstanding.
	WaitingForRegistrationUpdate struct{}
	// AfterRegistrationUpdateFailed holds the last update failure.
	AfterRegistrationUpdateFailed struct{ Err *ErrorInfo }
	// WaitingForDeregistration has a deregister call outstanding.
	WaitingForDeregistration struct{}
	// AfterDeregistrationFailed holds the last deregister failure.
	AfterDeregistrationFailed struct{ Err *ErrorInfo }
	// Activated is registered with no pending operation.
	Activated struct{}
)

func (NotActivated) Tag() StateTag                   { return TagNotActivated }
func (WaitingForPushDeviceDetails) Tag() StateTag    { return TagWaitingForPushDeviceDetails }
func (WaitingForDeviceRegistration) Tag() StateTag   { return TagWaitingForDeviceRegistration }
func (WaitingForNewPushDeviceDetails) Tag() StateTag { return TagWaitingForNewPushDeviceDetails }
func (WaitingForRegistrationUpdate) Tag() StateTag   { return TagWaitingForRegistrationUpdate }
func (AfterRegistrationUpdateFailed) Tag() StateTag  { return TagAfterRegistrationUpdateFailed }
func (WaitingForDeregistration) Tag() StateTag       { return TagWaitingForDeregistration }
func (AfterDeregistrationFailed) Tag() StateTag      { return TagAfterDeregistrationFailed }
func (Activated) Tag() StateTag                      { return TagActivated }

func (NotActivated) isState()                   {}
func (WaitingForPushDeviceDetails) isState()    {}
func (WaitingForDeviceRegistration) isState()   {}
func (WaitingForNewPushDeviceDetails) isState() {}
func (WaitingForRegistrationUpdate) isState()   {}
func (AfterRegistrationUpdateFailed) isState()  {}
func (WaitingForDeregistration) isState()       {}
func (AfterDeregistrationFailed) isState()      {}
func (Activated) isState()                      {}

// InFlight reports whether s has a gateway call outstanding.
func InFlight(s State) bool {
	switch s.(type) {
	case WaitingForDeviceRegistration, WaitingForRegistrationUpdate, WaitingForDeregistration:
		return true
	default:
		return false
	}
}

// StatesEqual compares two states including their error payloads.
func StatesEqual(a, b State) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Tag() != b.Tag() {
		return false
	}
	switch av := a.(type) {
	case AfterRegistrationUpdateFailed:
		return av.Err.Equal(b.(AfterRegistrationUpdateFailed).Err)
	case AfterDeregistrationFailed:
		return av.Err.Equal(b.(AfterDeregistrationFailed).Err)
	default:
		return true
	}
}

func stateError(s State) *ErrorInfo {
	switch v := s.(type) {
	case AfterRegistrationUpdateFailed:
		return v.Err
	case AfterDeregistrationFailed:
		return v.Err
	default:
		return nil
	}
}
