package push

// effect is the side effect a transition asks the machine to run after the
// new record has been saved.
type effect uint8

const (
	effectNone effect = iota
	effectRequestToken
	effectRegister
	effectUpdate
	effectDeregister
)

func (e effect) String() string {
	switch e {
	case effectRequestToken:
		return "request_token"
	case effectRegister:
		return "register"
	case effectUpdate:
		return "update"
	case effectDeregister:
		return "deregister"
	default:
		return "none"
	}
}

// resolution settles the pending caller callback of one kind.
type resolution struct {
	kind OperationKind
	err  *ErrorInfo
}

// outcome is the result of applying one event to one state.
type outcome struct {
	handled      bool
	next         State
	device       DeviceIdentity
	effect       effect
	resolutions  []resolution
	updateFailed *ErrorInfo
}

func activated(err *ErrorInfo) resolution   { return resolution{kind: OperationActivate, err: err} }
func deactivated(err *ErrorInfo) resolution { return resolution{kind: OperationDeactivate, err: err} }

// errActivationCanceled resolves an activate call overtaken by deactivate.
func errActivationCanceled() *ErrorInfo {
	return NewErrorInfo(KindState, CodeActivationCanceled, "activation canceled by deactivate", nil)
}

// transition is the activation table. It is pure: it never touches the store,
// the gateway or callbacks. Events not listed for a state are unhandled.
func transition(cur State, dev DeviceIdentity, ev Event) outcome {
	out := outcome{next: cur, device: dev}
	handle := func(next State, eff effect, res ...resolution) outcome {
		out.handled = true
		out.next = next
		out.effect = eff
		out.resolutions = res
		return out
	}

	switch cur.(type) {
	case NotActivated:
		switch e := ev.(type) {
		case CalledActivate:
			switch {
			case dev.IsRegistered():
				return handle(WaitingForNewPushDeviceDetails{}, effectRequestToken, activated(nil))
			case dev.HasToken():
				return handle(WaitingForDeviceRegistration{}, effectRegister)
			default:
				return handle(WaitingForPushDeviceDetails{}, effectRequestToken)
			}
		case CalledDeactivate:
			return handle(cur, effectNone, deactivated(nil))
		case GotPushDeviceDetails:
			out.device.Token = cloneBytes(e.Token)
			return handle(cur, effectNone)
		}

	case WaitingForPushDeviceDetails:
		switch e := ev.(type) {
		case CalledActivate:
			return handle(cur, effectRequestToken)
		case GotPushDeviceDetails:
			out.device.Token = cloneBytes(e.Token)
			return handle(WaitingForDeviceRegistration{}, effectRegister)
		case GettingDeviceRegistrationFailed:
			return handle(NotActivated{}, effectNone, activated(e.Err))
		case CalledDeactivate:
			return handle(NotActivated{}, effectNone, activated(errActivationCanceled()), deactivated(nil))
		}

	case WaitingForDeviceRegistration:
		switch e := ev.(type) {
		case GotDeviceRegistration:
			out.device.UpdateToken = e.UpdateToken
			return handle(Activated{}, effectNone, activated(nil))
		case GettingDeviceRegistrationFailed:
			return handle(NotActivated{}, effectNone, activated(e.Err))
		}

	case WaitingForNewPushDeviceDetails:
		switch e := ev.(type) {
		case GotPushDeviceDetails:
			if dev.SameToken(e.Token) {
				return handle(Activated{}, effectNone)
			}
			out.device.Token = cloneBytes(e.Token)
			return handle(WaitingForRegistrationUpdate{}, effectUpdate)
		case CalledActivate:
			return handle(cur, effectNone, activated(nil))
		case CalledDeactivate:
			return handle(WaitingForDeregistration{}, effectDeregister)
		}

	case Activated:
		switch e := ev.(type) {
		case GotPushDeviceDetails:
			if dev.SameToken(e.Token) {
				return handle(cur, effectNone)
			}
			out.device.Token = cloneBytes(e.Token)
			return handle(WaitingForRegistrationUpdate{}, effectUpdate)
		case CalledActivate:
			return handle(cur, effectNone, activated(nil))
		case CalledDeactivate:
			return handle(WaitingForDeregistration{}, effectDeregister)
		}

	case WaitingForRegistrationUpdate:
		switch e := ev.(type) {
		case RegistrationUpdated:
			return handle(Activated{}, effectNone, activated(nil))
		case UpdatingRegistrationFailed:
			out = handle(AfterRegistrationUpdateFailed{Err: e.Err}, effectNone, activated(e.Err))
			out.updateFailed = e.Err
			return out
		}

	case AfterRegistrationUpdateFailed:
		switch e := ev.(type) {
		case CalledActivate:
			return handle(WaitingForRegistrationUpdate{}, effectUpdate)
		case GotPushDeviceDetails:
			out.device.Token = cloneBytes(e.Token)
			return handle(WaitingForRegistrationUpdate{}, effectUpdate)
		case CalledDeactivate:
			return handle(WaitingForDeregistration{}, effectDeregister)
		}

	case WaitingForDeregistration:
		switch e := ev.(type) {
		case Deregistered:
			out.device.Token = nil
			out.device.UpdateToken = ""
			return handle(NotActivated{}, effectNone, deactivated(nil))
		case DeregistrationFailed:
			return handle(AfterDeregistrationFailed{Err: e.Err}, effectNone, deactivated(e.Err))
		}

	case AfterDeregistrationFailed:
		if _, ok := ev.(CalledDeactivate); ok {
			return handle(WaitingForDeregistration{}, effectDeregister)
		}
	}

	return out
}

// resumeEffect is the side effect to re-issue for a state loaded at start.
func resumeEffect(s State) effect {
	switch s.(type) {
	case WaitingForPushDeviceDetails, WaitingForNewPushDeviceDetails:
		return effectRequestToken
	case WaitingForDeviceRegistration:
		return effectRegister
	case WaitingForRegistrationUpdate:
		return effectUpdate
	case WaitingForDeregistration:
		return effectDeregister
	default:
		return effectNone
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func sameDevice(a, b DeviceIdentity) bool {
	return a.DeviceID == b.DeviceID &&
		a.SameToken(b.Token) &&
		a.UpdateToken == b.UpdateToken &&
		a.Secret == b.Secret
}
