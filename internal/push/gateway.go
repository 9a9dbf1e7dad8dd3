package push

import (
	"context"
	"errors"
)

// RegistrationGateway performs the network calls behind activation. Each
// method is called at most once per transition and may block; the machine
// runs it off the executor and turns the result into an event.
type RegistrationGateway interface {
	// Register creates the device registration and returns its update token.
	Register(ctx context.Context, details DeviceDetails) (string, error)

	// Update replaces the registration with new details, authorized by device.
	Update(ctx context.Context, details DeviceDetails, device DeviceIdentity) error

	// Deregister removes the registration of device.
	Deregister(ctx context.Context, device DeviceIdentity) error
}

// TokenRequester asks the platform for a push token. The token arrives later
// through PushController.DidRegisterForRemoteNotifications.
type TokenRequester interface {
	RequestToken(ctx context.Context) error
}

// TokenRequesterFunc adapts a function to TokenRequester.
type TokenRequesterFunc func(ctx context.Context) error

// RequestToken calls f.
func (f TokenRequesterFunc) RequestToken(ctx context.Context) error {
	return f(ctx)
}

// ErrNoGatewayHook is returned by FuncGateway when a hook is missing and no
// fallback gateway is set.
var ErrNoGatewayHook = errors.New("no gateway hook configured")

// FuncGateway lets the app handle registration itself, typically through its
// own backend. Unset hooks fall through to Fallback.
type FuncGateway struct {
	RegisterFunc   func(ctx context.Context, details DeviceDetails) (string, error)
	UpdateFunc     func(ctx context.Context, details DeviceDetails, device DeviceIdentity) error
	DeregisterFunc func(ctx context.Context, device DeviceIdentity) error

	Fallback RegistrationGateway
}

// Register calls RegisterFunc or the fallback.
func (g FuncGateway) Register(ctx context.Context, details DeviceDetails) (string, error) {
	if g.RegisterFunc != nil {
		return g.RegisterFunc(ctx, details)
	}
	if g.Fallback != nil {
		return g.Fallback.Register(ctx, details)
	}
	return "", ErrNoGatewayHook
}

// Update calls UpdateFunc or the fallback. Apps that register through their
// own backend usually re-register on token change, so a missing UpdateFunc
// falls back to RegisterFunc.
func (g FuncGateway) Update(ctx context.Context, details DeviceDetails, device DeviceIdentity) error {
	switch {
	case g.UpdateFunc != nil:
		return g.UpdateFunc(ctx, details, device)
	case g.Fallback != nil:
		return g.Fallback.Update(ctx, details, device)
	case g.RegisterFunc != nil:
		_, err := g.RegisterFunc(ctx, details)
		return err
	default:
		return ErrNoGatewayHook
	}
}

// Deregister calls DeregisterFunc or the fallback.
func (g FuncGateway) Deregister(ctx context.Context, device DeviceIdentity) error {
	if g.DeregisterFunc != nil {
		return g.DeregisterFunc(ctx, device)
	}
	if g.Fallback != nil {
		return g.Fallback.Deregister(ctx, device)
	}
	return ErrNoGatewayHook
}
