package push

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/relaypush/relaypush/internal/push"

// Machine errors.
var (
	ErrMachineClosed  = &ErrorInfo{Kind: KindState, Code: CodeMachineClosed, Message: "activation machine closed"}
	ErrAlreadyStarted = errors.New("activation machine already started")
	ErrNilEvent       = errors.New("nil activation event")
)

// Reporter receives diagnostics from the machine. telemetry.Reporter
// implements it on top of Sentry.
type Reporter interface {
	Breadcrumb(category, message string, data map[string]interface{})
	Report(err error, tags map[string]string)
}

// Resolver settles caller callbacks. It is called on the executor and must
// not block.
type Resolver interface {
	Resolve(kind OperationKind, device DeviceIdentity, err error)
	UpdateFailed(err *ErrorInfo)
}

// Transition describes one committed state change.
type Transition struct {
	From   State
	To     State
	Event  Event
	Device DeviceIdentity
}

// TransitionHook observes committed transitions. It runs on the executor and
// must not block.
type TransitionHook func(Transition)

// MachineConfig configures an activation Machine.
type MachineConfig struct {
	Store          StateStore
	Gateway        RegistrationGateway
	TokenRequester TokenRequester
	Template       DeviceTemplate
	Logger         zerolog.Logger
	Reporter       Reporter
	Meter          metric.Meter
	OnTransition   TransitionHook
	Resolver       Resolver
}

// Machine is the activation state machine. A single executor goroutine owns
// the state and identity; every change is saved before its side effect runs.
type Machine struct {
	store    StateStore
	gateway  RegistrationGateway
	tokens   TokenRequester
	log      zerolog.Logger
	reporter Reporter
	hook     TransitionHook
	resolver Resolver

	transitions metric.Int64Counter

	mu       sync.RWMutex
	state    State
	device   DeviceIdentity
	template DeviceTemplate

	// deferred is owned by the executor.
	deferred []Event

	inbox   *queue[envelope]
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
	calls   sync.WaitGroup

	closeOnce sync.Once
}

// NewMachine creates a machine. Call Start to load the persisted record and
// begin processing events.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Store == nil {
		return nil, errors.New("activation machine: store is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("activation machine: gateway is required")
	}
	if cfg.Template.Platform == "" {
		cfg.Template = DefaultDeviceTemplate()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(meterName)
	}

	transitions, err := cfg.Meter.Int64Counter(
		"push.activation.transitions",
		metric.WithDescription("Committed activation state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		tokens:      cfg.TokenRequester,
		template:    cfg.Template,
		log:         cfg.Logger.With().Str("component", "activation").Logger(),
		reporter:    cfg.Reporter,
		hook:        cfg.OnTransition,
		resolver:    cfg.Resolver,
		transitions: transitions,
		state:       NotActivated{},
		inbox:       newQueue[envelope](),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}, nil
}

// Start loads the persisted record, creates the device identity on first
// run, re-issues the gateway call of an in-flight state and starts the
// executor.
func (m *Machine) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	rec, err := m.store.Load(ctx)
	if err != nil {
		m.started.Store(false)
		perr := persistenceError("load", err)
		m.reporter.Report(perr, map[string]string{"op": "load"})
		return perr
	}
	if rec.State == nil {
		rec.State = NotActivated{}
	}

	if rec.Device.DeviceID == "" || rec.Device.Secret == "" {
		if rec.Device.DeviceID == "" {
			rec.Device.DeviceID = uuid.NewString()
		}
		if rec.Device.Secret, err = newDeviceSecret(); err != nil {
			m.started.Store(false)
			return fmt.Errorf("generating device secret: %w", err)
		}
		if err := m.store.Save(ctx, rec); err != nil {
			m.started.Store(false)
			perr := persistenceError("save", err)
			m.reporter.Report(perr, map[string]string{"op": "save"})
			return perr
		}
		m.log.Info().Str("device_id", rec.Device.DeviceID).Msg("created local device")
	}

	m.mu.Lock()
	m.state = rec.State
	m.device = rec.Device
	m.mu.Unlock()

	m.log.Info().
		Str("state", rec.State.Tag().String()).
		Str("device_id", rec.Device.DeviceID).
		Msg("activation machine started")

	if eff := resumeEffect(rec.State); eff != effectNone {
		m.log.Info().Str("effect", eff.String()).Msg("resuming interrupted operation")
		m.perform(eff, rec.Device)
	}

	go m.run()
	return nil
}

// Send enqueues ev without waiting for it to be processed.
func (m *Machine) Send(ev Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	if !m.inbox.push(envelope{ev: ev}) {
		return ErrMachineClosed
	}
	return nil
}

// Dispatch enqueues ev and waits until it has been applied or deferred. It
// returns a PersistenceError when the new record could not be saved, in
// which case the state is unchanged and no side effect ran, and a StateError
// when a caller event is not possible in the current state. Failures of
// deferred caller events go to the Resolver instead.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	done := make(chan error, 1)
	if !m.inbox.push(envelope{ev: ev, done: done}) {
		return ErrMachineClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Device returns a copy of the current identity.
func (m *Machine) Device() DeviceIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device.Clone()
}

// SetTemplate replaces the device details used by later gateway calls.
func (m *Machine) SetTemplate(t DeviceTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.template = t
}

func (m *Machine) details(dev DeviceIdentity) DeviceDetails {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.template.Details(dev)
}

// Close stops the executor, cancels outstanding gateway calls and waits for
// them to return. Queued events are discarded; their state is whatever was
// last saved.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		if m.started.Load() {
			<-m.done
		}
		for _, env := range m.inbox.close() {
			if env.done != nil {
				env.done <- ErrMachineClosed
			}
		}
		m.calls.Wait()
		m.log.Info().Msg("activation machine closed")
	})
	return nil
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		env, ok := m.inbox.pop(m.ctx)
		if !ok {
			return
		}
		err := m.handle(env.ev)
		if env.done != nil {
			env.done <- err
		}
	}
}

// handle applies ev, or defers it while a gateway call is outstanding, then
// replays deferred events once the state has settled.
func (m *Machine) handle(ev Event) error {
	cur := m.state
	if InFlight(cur) && deferrable(ev) {
		m.deferred = append(m.deferred, ev)
		m.log.Debug().
			Str("state", cur.Tag().String()).
			Str("event", ev.Tag().String()).
			Int("deferred", len(m.deferred)).
			Msg("event deferred")
		return nil
	}

	err := m.step(ev)

	for len(m.deferred) > 0 && !InFlight(m.state) {
		next := m.deferred[0]
		m.deferred = m.deferred[1:]
		if rerr := m.step(next); rerr != nil {
			m.log.Error().Err(rerr).Str("event", next.Tag().String()).Msg("replayed event not applied")
			m.settle(next, rerr)
		}
	}
	return err
}

// settle hands err to the caller waiting on a replayed caller event. Its
// Dispatch returned when the event was deferred.
func (m *Machine) settle(ev Event, err error) {
	kind, ok := operationOf(ev)
	if !ok || m.resolver == nil {
		return
	}
	m.resolver.Resolve(kind, m.device.Clone(), err)
}

// step applies one event: compute, save, commit, then run side effects.
func (m *Machine) step(ev Event) error {
	cur, dev := m.state, m.device
	out := transition(cur, dev, ev)
	if !out.handled {
		if kind, ok := operationOf(ev); ok {
			m.log.Warn().
				Str("state", cur.Tag().String()).
				Str("operation", string(kind)).
				Msg("caller request rejected")
			return NewErrorInfo(KindState, CodeInvalidState,
				fmt.Sprintf("%s is not possible in state %s", kind, cur.Tag()), nil)
		}
		m.log.Debug().
			Str("state", cur.Tag().String()).
			Str("event", ev.Tag().String()).
			Msg("event dropped")
		return nil
	}

	if !StatesEqual(cur, out.next) || !sameDevice(dev, out.device) {
		rec := PersistedRecord{State: out.next, Device: out.device}
		if err := m.store.Save(m.ctx, rec); err != nil {
			perr := persistenceError("save", err)
			m.log.Error().
				Err(err).
				Str("state", cur.Tag().String()).
				Str("next", out.next.Tag().String()).
				Str("event", ev.Tag().String()).
				Msg("failed to persist transition")
			m.reporter.Report(perr, map[string]string{
				"state": cur.Tag().String(),
				"event": ev.Tag().String(),
			})
			return perr
		}
	}

	m.mu.Lock()
	m.state = out.next
	m.device = out.device
	m.mu.Unlock()

	m.record(cur, out, ev)

	if out.effect != effectNone {
		m.perform(out.effect, out.device.Clone())
	}
	if m.resolver != nil {
		for _, r := range out.resolutions {
			var err error
			if r.err != nil {
				err = r.err
			}
			m.resolver.Resolve(r.kind, out.device.Clone(), err)
		}
		if out.updateFailed != nil {
			m.resolver.UpdateFailed(out.updateFailed)
		}
	}
	return nil
}

func (m *Machine) record(from State, out outcome, ev Event) {
	fromName, toName := from.Tag().String(), out.next.Tag().String()

	m.log.Info().
		Str("from", fromName).
		Str("to", toName).
		Str("event", ev.Tag().String()).
		Str("effect", out.effect.String()).
		Msg("activation transition")

	m.reporter.Breadcrumb("push.activation", fromName+" -> "+toName, map[string]interface{}{
		"event":  ev.Tag().String(),
		"effect": out.effect.String(),
	})

	m.transitions.Add(m.ctx, 1, metric.WithAttributes(
		attribute.String("from", fromName),
		attribute.String("to", toName),
		attribute.String("event", ev.Tag().String()),
	))

	if m.hook != nil {
		m.hook(Transition{From: from, To: out.next, Event: ev, Device: out.device.Clone()})
	}
}

// perform runs a side effect on its own goroutine. The result re-enters the
// machine as an event.
func (m *Machine) perform(eff effect, dev DeviceIdentity) {
	m.calls.Add(1)
	go func() {
		defer m.calls.Done()
		ev := m.call(eff, dev)
		if ev == nil {
			return
		}
		if err := m.Send(ev); err != nil {
			m.log.Debug().Err(err).Str("event", ev.Tag().String()).Msg("gateway result discarded")
		}
	}()
}

func (m *Machine) call(eff effect, dev DeviceIdentity) Event {
	switch eff {
	case effectRequestToken:
		if m.tokens == nil {
			return nil
		}
		if err := m.tokens.RequestToken(m.ctx); err != nil {
			return GettingDeviceRegistrationFailed{Err: AsErrorInfo(err, KindOSRegistration)}
		}
		return nil

	case effectRegister:
		updateToken, err := m.gateway.Register(m.ctx, m.details(dev))
		if err != nil {
			return GettingDeviceRegistrationFailed{Err: AsErrorInfo(err, KindTransport)}
		}
		return GotDeviceRegistration{UpdateToken: updateToken}

	case effectUpdate:
		if err := m.gateway.Update(m.ctx, m.details(dev), dev); err != nil {
			return UpdatingRegistrationFailed{Err: AsErrorInfo(err, KindTransport)}
		}
		return RegistrationUpdated{}

	case effectDeregister:
		if err := m.gateway.Deregister(m.ctx, dev); err != nil {
			return DeregistrationFailed{Err: AsErrorInfo(err, KindTransport)}
		}
		return Deregistered{}
	}
	return nil
}

func newDeviceSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type nopReporter struct{}

func (nopReporter) Breadcrumb(string, string, map[string]interface{}) {}
func (nopReporter) Report(error, map[string]string)                   {}
