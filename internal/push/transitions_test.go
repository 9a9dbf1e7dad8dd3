package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition_Table(t *testing.T) {
	noToken := DeviceIdentity{DeviceID: "d1", Secret: "s"}
	withToken := DeviceIdentity{DeviceID: "d1", Secret: "s", Token: []byte{1}}
	registered := DeviceIdentity{DeviceID: "d1", Secret: "s", Token: []byte{1}, UpdateToken: "u0"}
	errInfo := NewErrorInfo(KindTransport, 50300, "unavailable", nil)

	tests := []struct {
		name        string
		state       State
		device      DeviceIdentity
		event       Event
		next        State
		effect      effect
		resolutions []OperationKind
	}{
		{"activate without token", NotActivated{}, noToken, CalledActivate{}, WaitingForPushDeviceDetails{}, effectRequestToken, nil},
		{"activate with token", NotActivated{}, withToken, CalledActivate{}, WaitingForDeviceRegistration{}, effectRegister, nil},
		{"activate when registered", NotActivated{}, registered, CalledActivate{}, WaitingForNewPushDeviceDetails{}, effectRequestToken, []OperationKind{OperationActivate}},
		{"deactivate when not activated", NotActivated{}, noToken, CalledDeactivate{}, NotActivated{}, effectNone, []OperationKind{OperationDeactivate}},
		{"token before activate", NotActivated{}, noToken, GotPushDeviceDetails{Token: []byte{1}}, NotActivated{}, effectNone, nil},
		{"activate again re-requests token", WaitingForPushDeviceDetails{}, noToken, CalledActivate{}, WaitingForPushDeviceDetails{}, effectRequestToken, nil},
		{"token delivered", WaitingForPushDeviceDetails{}, noToken, GotPushDeviceDetails{Token: []byte{1}}, WaitingForDeviceRegistration{}, effectRegister, nil},
		{"os registration failed", WaitingForPushDeviceDetails{}, noToken, GettingDeviceRegistrationFailed{Err: errInfo}, NotActivated{}, effectNone, []OperationKind{OperationActivate}},
		{"deactivate while waiting for token", WaitingForPushDeviceDetails{}, noToken, CalledDeactivate{}, NotActivated{}, effectNone, []OperationKind{OperationActivate, OperationDeactivate}},
		{"registered", WaitingForDeviceRegistration{}, withToken, GotDeviceRegistration{UpdateToken: "u1"}, Activated{}, effectNone, []OperationKind{OperationActivate}},
		{"registration failed", WaitingForDeviceRegistration{}, withToken, GettingDeviceRegistrationFailed{Err: errInfo}, NotActivated{}, effectNone, []OperationKind{OperationActivate}},
		{"same token confirmed", WaitingForNewPushDeviceDetails{}, registered, GotPushDeviceDetails{Token: []byte{1}}, Activated{}, effectNone, nil},
		{"new token on launch", WaitingForNewPushDeviceDetails{}, registered, GotPushDeviceDetails{Token: []byte{2}}, WaitingForRegistrationUpdate{}, effectUpdate, nil},
		{"activate while confirming", WaitingForNewPushDeviceDetails{}, registered, CalledActivate{}, WaitingForNewPushDeviceDetails{}, effectNone, []OperationKind{OperationActivate}},
		{"deactivate while confirming", WaitingForNewPushDeviceDetails{}, registered, CalledDeactivate{}, WaitingForDeregistration{}, effectDeregister, nil},
		{"token rotated", Activated{}, registered, GotPushDeviceDetails{Token: []byte{2}}, WaitingForRegistrationUpdate{}, effectUpdate, nil},
		{"duplicate token", Activated{}, registered, GotPushDeviceDetails{Token: []byte{1}}, Activated{}, effectNone, nil},
		{"activate when active", Activated{}, registered, CalledActivate{}, Activated{}, effectNone, []OperationKind{OperationActivate}},
		{"deactivate", Activated{}, registered, CalledDeactivate{}, WaitingForDeregistration{}, effectDeregister, nil},
		{"updated", WaitingForRegistrationUpdate{}, registered, RegistrationUpdated{}, Activated{}, effectNone, []OperationKind{OperationActivate}},
		{"update failed", WaitingForRegistrationUpdate{}, registered, UpdatingRegistrationFailed{Err: errInfo}, AfterRegistrationUpdateFailed{Err: errInfo}, effectNone, []OperationKind{OperationActivate}},
		{"retry update on activate", AfterRegistrationUpdateFailed{Err: errInfo}, registered, CalledActivate{}, WaitingForRegistrationUpdate{}, effectUpdate, nil},
		{"retry update on token", AfterRegistrationUpdateFailed{Err: errInfo}, registered, GotPushDeviceDetails{Token: []byte{3}}, WaitingForRegistrationUpdate{}, effectUpdate, nil},
		{"deactivate after update failed", AfterRegistrationUpdateFailed{Err: errInfo}, registered, CalledDeactivate{}, WaitingForDeregistration{}, effectDeregister, nil},
		{"deregistered", WaitingForDeregistration{}, registered, Deregistered{}, NotActivated{}, effectNone, []OperationKind{OperationDeactivate}},
		{"deregistration failed", WaitingForDeregistration{}, registered, DeregistrationFailed{Err: errInfo}, AfterDeregistrationFailed{Err: errInfo}, effectNone, []OperationKind{OperationDeactivate}},
		{"retry deregister", AfterDeregistrationFailed{Err: errInfo}, registered, CalledDeactivate{}, WaitingForDeregistration{}, effectDeregister, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transition(tt.state, tt.device, tt.event)

			assert.True(t, out.handled)
			assert.True(t, StatesEqual(tt.next, out.next), "next state: want %s, got %s", tt.next.Tag(), out.next.Tag())
			assert.Equal(t, tt.effect, out.effect)

			var kinds []OperationKind
			for _, r := range out.resolutions {
				kinds = append(kinds, r.kind)
			}
			assert.Equal(t, tt.resolutions, kinds)
		})
	}
}

func TestTransition_Unhandled(t *testing.T) {
	registered := DeviceIdentity{DeviceID: "d1", Token: []byte{1}, UpdateToken: "u0"}
	errInfo := NewErrorInfo(KindTransport, 1, "x", nil)

	tests := []struct {
		name  string
		state State
		event Event
	}{
		{"registration while active", Activated{}, GotDeviceRegistration{UpdateToken: "u9"}},
		{"updated while active", Activated{}, RegistrationUpdated{}},
		{"deregistered while active", Activated{}, Deregistered{}},
		{"deregistered while not activated", NotActivated{}, Deregistered{}},
		{"failure while active", Activated{}, GettingDeviceRegistrationFailed{Err: errInfo}},
		{"activate after deregister failed", AfterDeregistrationFailed{Err: errInfo}, CalledActivate{}},
		{"update failed while deregistering", WaitingForDeregistration{}, UpdatingRegistrationFailed{Err: errInfo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transition(tt.state, registered, tt.event)
			assert.False(t, out.handled)
			assert.True(t, StatesEqual(tt.state, out.next))
			assert.True(t, sameDevice(registered, out.device))
			assert.Equal(t, effectNone, out.effect)
			assert.Empty(t, out.resolutions)
		})
	}
}

func TestOperationOf(t *testing.T) {
	kind, ok := operationOf(CalledActivate{})
	assert.True(t, ok)
	assert.Equal(t, OperationActivate, kind)

	kind, ok = operationOf(CalledDeactivate{})
	assert.True(t, ok)
	assert.Equal(t, OperationDeactivate, kind)

	_, ok = operationOf(GotPushDeviceDetails{})
	assert.False(t, ok)
}

func TestTransition_DeviceUpdates(t *testing.T) {
	registered := DeviceIdentity{DeviceID: "d1", Secret: "s", Token: []byte{1}, UpdateToken: "u0"}

	out := transition(WaitingForDeviceRegistration{}, DeviceIdentity{DeviceID: "d1", Token: []byte{1}}, GotDeviceRegistration{UpdateToken: "u1"})
	assert.Equal(t, "u1", out.device.UpdateToken)

	out = transition(Activated{}, registered, GotPushDeviceDetails{Token: []byte{2}})
	assert.Equal(t, []byte{2}, out.device.Token)
	assert.Equal(t, []byte{1}, registered.Token)

	out = transition(WaitingForDeregistration{}, registered, Deregistered{})
	assert.Nil(t, out.device.Token)
	assert.Empty(t, out.device.UpdateToken)
	assert.Equal(t, "d1", out.device.DeviceID)
	assert.Equal(t, "s", out.device.Secret)
}

func TestTransition_UpdateFailedNotifies(t *testing.T) {
	errInfo := NewErrorInfo(KindTransport, 40100, "unauthorized", nil)
	out := transition(WaitingForRegistrationUpdate{}, DeviceIdentity{}, UpdatingRegistrationFailed{Err: errInfo})
	assert.Same(t, errInfo, out.updateFailed)
}

func TestTransition_CancelledActivate(t *testing.T) {
	out := transition(WaitingForPushDeviceDetails{}, DeviceIdentity{}, CalledDeactivate{})
	a := out.resolutions[0]
	assert.Equal(t, OperationActivate, a.kind)
	assert.Equal(t, CodeActivationCanceled, a.err.Code)
	assert.Nil(t, out.resolutions[1].err)
}

func TestResumeEffect(t *testing.T) {
	assert.Equal(t, effectRegister, resumeEffect(WaitingForDeviceRegistration{}))
	assert.Equal(t, effectUpdate, resumeEffect(WaitingForRegistrationUpdate{}))
	assert.Equal(t, effectDeregister, resumeEffect(WaitingForDeregistration{}))
	assert.Equal(t, effectRequestToken, resumeEffect(WaitingForPushDeviceDetails{}))
	assert.Equal(t, effectRequestToken, resumeEffect(WaitingForNewPushDeviceDetails{}))
	assert.Equal(t, effectNone, resumeEffect(Activated{}))
	assert.Equal(t, effectNone, resumeEffect(AfterDeregistrationFailed{}))
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 5; i++ {
		assert.True(t, q.push(i))
	}
	assert.Equal(t, 5, q.len())

	v, ok := q.pop(t.Context())
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	rest := q.close()
	assert.Equal(t, []int{1, 2, 3, 4}, rest)
	assert.False(t, q.push(9))
}
