package push

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ControllerConfig configures a PushController.
type ControllerConfig struct {
	Machine MachineConfig

	// OnUpdateFailed is called when the service rejects a registration update
	// that no caller is waiting for, typically after an OS token rotation.
	OnUpdateFailed func(*ErrorInfo)
}

// CallOption configures a single Activate or Deactivate call.
type CallOption func(*callOptions)

type callOptions struct {
	completion Completion
	template   *DeviceTemplate
}

// WithCompletion sets the callback receiving the outcome of the call.
func WithCompletion(fn Completion) CallOption {
	return func(o *callOptions) {
		o.completion = fn
	}
}

// WithDetails replaces the device details sent on registration.
func WithDetails(t DeviceTemplate) CallOption {
	return func(o *callOptions) {
		o.template = &t
	}
}

// PushController is the entry point for apps. It turns caller requests and OS
// callbacks into activation events and routes outcomes back to the callers.
type PushController struct {
	machine *Machine
	log     zerolog.Logger

	onUpdateFailed func(*ErrorInfo)

	mu      sync.Mutex
	pending map[OperationKind]Completion

	callbacks *queue[func()]
	ctx       context.Context
	cancel    context.CancelFunc
	delivered chan struct{}
	closeOnce sync.Once
}

// NewPushController creates a controller and the machine behind it.
func NewPushController(cfg ControllerConfig) (*PushController, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &PushController{
		log:            cfg.Machine.Logger.With().Str("component", "push_controller").Logger(),
		onUpdateFailed: cfg.OnUpdateFailed,
		pending:        make(map[OperationKind]Completion),
		callbacks:      newQueue[func()](),
		ctx:            ctx,
		cancel:         cancel,
		delivered:      make(chan struct{}),
	}

	mcfg := cfg.Machine
	mcfg.Resolver = c
	machine, err := NewMachine(mcfg)
	if err != nil {
		cancel()
		return nil, err
	}
	c.machine = machine
	return c, nil
}

// Start loads persisted state and begins processing.
func (c *PushController) Start(ctx context.Context) error {
	if err := c.machine.Start(ctx); err != nil {
		return err
	}
	go c.deliver()
	return nil
}

// Close stops the machine and delivers callbacks that were already resolved.
// Callbacks still pending are dropped.
func (c *PushController) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.machine.Close()
		c.cancel()
		if c.machine.started.Load() {
			<-c.delivered
		}
		for _, fn := range c.callbacks.close() {
			fn()
		}
	})
	return err
}

// Activate registers the device for push. A second call while one is
// outstanding only replaces the completion.
func (c *PushController) Activate(ctx context.Context, opts ...CallOption) error {
	return c.call(ctx, OperationActivate, CalledActivate{}, opts)
}

// Deactivate removes the push registration of deviceID, which must be the
// local device. An empty deviceID means the local device.
func (c *PushController) Deactivate(ctx context.Context, deviceID string, opts ...CallOption) error {
	if local := c.machine.Device().DeviceID; deviceID != "" && deviceID != local {
		err := NewErrorInfo(KindState, CodeDeviceMismatch, "device "+deviceID+" is not the local device", nil)
		o := applyCallOptions(opts)
		if o.completion != nil {
			device := c.machine.Device()
			c.enqueue(func() { o.completion(Result{Kind: OperationDeactivate, Device: device, Err: err}) })
		}
		return err
	}
	return c.call(ctx, OperationDeactivate, CalledDeactivate{}, opts)
}

// DidRegisterForRemoteNotifications hands a token delivered by the OS to the
// machine.
func (c *PushController) DidRegisterForRemoteNotifications(token []byte) {
	if err := c.machine.Send(GotPushDeviceDetails{Token: cloneBytes(token)}); err != nil {
		c.log.Warn().Err(err).Msg("push token dropped")
	}
}

// DidFailToRegisterForRemoteNotifications reports an OS registration failure.
func (c *PushController) DidFailToRegisterForRemoteNotifications(err error) {
	info := AsErrorInfo(err, KindOSRegistration)
	if info == nil {
		info = NewErrorInfo(KindOSRegistration, CodeUnknown, "os registration failed", nil)
	}
	if serr := c.machine.Send(GettingDeviceRegistrationFailed{Err: info}); serr != nil {
		c.log.Warn().Err(serr).Msg("os registration failure dropped")
	}
}

// Device returns a copy of the local device identity.
func (c *PushController) Device() DeviceIdentity {
	return c.machine.Device()
}

// State returns the current activation state.
func (c *PushController) State() State {
	return c.machine.State()
}

// Resolve settles the pending completion of kind, if any.
func (c *PushController) Resolve(kind OperationKind, device DeviceIdentity, err error) {
	c.mu.Lock()
	fn, ok := c.pending[kind]
	delete(c.pending, kind)
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("kind", string(kind)).Msg("no pending callback")
		return
	}
	if fn == nil {
		return
	}
	c.enqueue(func() { fn(Result{Kind: kind, Device: device, Err: err}) })
}

// UpdateFailed forwards a failed registration update to OnUpdateFailed.
func (c *PushController) UpdateFailed(err *ErrorInfo) {
	if c.onUpdateFailed == nil {
		return
	}
	c.enqueue(func() { c.onUpdateFailed(err) })
}

func (c *PushController) call(ctx context.Context, kind OperationKind, ev Event, opts []CallOption) error {
	o := applyCallOptions(opts)
	if o.template != nil {
		c.machine.SetTemplate(*o.template)
	}

	c.mu.Lock()
	_, outstanding := c.pending[kind]
	c.pending[kind] = o.completion
	c.mu.Unlock()

	if outstanding {
		c.log.Debug().Str("kind", string(kind)).Msg("replaced pending callback")
		return nil
	}

	if err := c.machine.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.Resolve(kind, c.machine.Device(), err)
		return err
	}
	return nil
}

func (c *PushController) enqueue(fn func()) {
	if !c.callbacks.push(fn) {
		c.log.Debug().Msg("callback dropped after close")
	}
}

// deliver runs completions one at a time off the executor, so they may call
// back into the controller.
func (c *PushController) deliver() {
	defer close(c.delivered)
	for {
		fn, ok := c.callbacks.pop(c.ctx)
		if !ok {
			return
		}
		fn()
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
