package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/relaypush/relaypush/internal/config"
	"github.com/relaypush/relaypush/internal/database"
	"github.com/relaypush/relaypush/internal/gateway"
	"github.com/relaypush/relaypush/internal/push"
	"github.com/relaypush/relaypush/internal/resilience"
	"github.com/relaypush/relaypush/internal/telemetry"
)

var errUsage = errors.New("usage")

type app struct {
	cfg      config.Config
	log      zerolog.Logger
	reporter *telemetry.Reporter
	meter    metric.Meter
	out      io.Writer

	// gateway overrides the HTTP gateway built from cfg.
	gateway push.RegistrationGateway
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "activate":
		fs := flag.NewFlagSet("activate", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		rawToken := fs.String("token", "", "hex push token the OS hands out; random when empty")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		token, err := parseToken(*rawToken)
		if err != nil {
			return err
		}
		return a.activate(ctx, token)
	case "deactivate":
		return a.deactivate(ctx)
	case "status":
		return a.status(ctx)
	case "token":
		if len(args) != 1 {
			return errUsage
		}
		token, err := parseToken(args[0])
		if err != nil {
			return err
		}
		if len(token) == 0 {
			return errUsage
		}
		return a.rotate(ctx, token)
	default:
		return errUsage
	}
}

// parseToken decodes a hex push token. Empty input yields nil.
func parseToken(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	token, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("push token must be hex: %w", err)
	}
	return token, nil
}

func randomToken() []byte {
	token := make([]byte, 32)
	_, _ = rand.Read(token)
	return token
}

// deviceTemplate builds the static registration details from configuration.
func deviceTemplate(cfg config.DeviceConfig) push.DeviceTemplate {
	return push.DeviceTemplate{
		ClientID:      cfg.ClientID,
		Platform:      cfg.Platform,
		FormFactor:    cfg.FormFactor,
		TransportType: push.TransportType(cfg.Transport),
		Metadata:      cfg.Metadata,
	}
}

// openStore returns the configured state store and a function releasing its
// connections.
func (a *app) openStore(ctx context.Context) (push.StateStore, func(), error) {
	sc := a.cfg.Store
	switch sc.Kind {
	case config.StoreMemory:
		return push.NewMemoryStore(), func() {}, nil
	case config.StoreFile:
		store, err := push.NewFileStore(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.StorePostgres:
		pool, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		store := push.NewPostgresStore(pool, sc.Slot)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case config.StoreRedis:
		client, err := push.NewRedisClient(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return push.NewRedisStore(client, "relaypush:activation:"+sc.Slot), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: store kind %q", config.ErrInvalid, sc.Kind)
	}
}

func (a *app) newGateway() (push.RegistrationGateway, error) {
	if a.gateway != nil {
		return a.gateway, nil
	}
	gc := a.cfg.Gateway

	var auth gateway.Authorizer
	switch {
	case gc.APIKey != "":
		auth = gateway.APIKey(gc.APIKey)
	case gc.Token != "":
		auth = gateway.StaticToken(gc.Token)
	}

	httpCfg := resilience.DefaultClientConfig("gateway")
	httpCfg.Timeout = gc.Timeout
	httpCfg.MaxRetries = gc.MaxRetries

	return gateway.NewClient(gateway.ClientConfig{
		BaseURL:       gc.BaseURL,
		FallbackHosts: gc.FallbackHosts,
		Auth:          auth,
		HTTP:          httpCfg,
		Logger:        a.log,
	})
}

// session is a started controller plus the resources behind it.
type session struct {
	ctrl        *push.PushController
	transitions chan push.Transition
	closeStore  func()
}

func (s *session) close() {
	_ = s.ctrl.Close()
	s.closeStore()
}

// start builds and starts a controller. deliver is the token the simulated
// OS hands out when asked; nil means a random one.
func (a *app) start(ctx context.Context, deliver []byte) (*session, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	gw, err := a.newGateway()
	if err != nil {
		closeStore()
		return nil, err
	}

	s := &session{
		transitions: make(chan push.Transition, 16),
		closeStore:  closeStore,
	}

	mcfg := push.MachineConfig{
		Store:   store,
		Gateway: gw,
		TokenRequester: push.TokenRequesterFunc(func(context.Context) error {
			token := deliver
			if len(token) == 0 {
				token = randomToken()
			}
			go s.ctrl.DidRegisterForRemoteNotifications(token)
			return nil
		}),
		Template: deviceTemplate(a.cfg.Device),
		Logger:   a.log,
		Meter:    a.meter,
		OnTransition: func(t push.Transition) {
			select {
			case s.transitions <- t:
			default:
			}
		},
	}
	if a.reporter != nil {
		mcfg.Reporter = a.reporter
	}

	ctrl, err := push.NewPushController(push.ControllerConfig{
		Machine: mcfg,
		OnUpdateFailed: func(info *push.ErrorInfo) {
			a.log.Warn().Err(info).Msg("registration update failed")
		},
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	s.ctrl = ctrl

	if err := ctrl.Start(ctx); err != nil {
		_ = ctrl.Close()
		closeStore()
		return nil, err
	}
	return s, nil
}

// await runs call and waits for its completion.
func await(ctx context.Context, call func(push.CallOption) error) (push.Result, error) {
	done := make(chan push.Result, 1)
	if err := call(push.WithCompletion(func(r push.Result) { done <- r })); err != nil {
		return push.Result{}, err
	}
	select {
	case r := <-done:
		return r, r.Err
	case <-ctx.Done():
		return push.Result{}, ctx.Err()
	}
}

func (a *app) activate(ctx context.Context, token []byte) error {
	s, err := a.start(ctx, token)
	if err != nil {
		return err
	}
	defer s.close()

	result, err := await(ctx, func(opt push.CallOption) error {
		return s.ctrl.Activate(ctx, opt)
	})
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	fmt.Fprintf(a.out, "activated device %s\n", result.Device.DeviceID)
	return nil
}

func (a *app) deactivate(ctx context.Context) error {
	s, err := a.start(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	result, err := await(ctx, func(opt push.CallOption) error {
		return s.ctrl.Deactivate(ctx, "", opt)
	})
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	fmt.Fprintf(a.out, "deactivated device %s\n", result.Device.DeviceID)
	return nil
}

// rotate delivers token as if the OS had issued a new one, then waits until
// the machine settles.
func (a *app) rotate(ctx context.Context, token []byte) error {
	s, err := a.start(ctx, token)
	if err != nil {
		return err
	}
	defer s.close()

	if s.ctrl.Device().SameToken(token) && !push.InFlight(s.ctrl.State()) {
		fmt.Fprintf(a.out, "token unchanged, state %s\n", s.ctrl.State().Tag())
		return nil
	}

	s.ctrl.DidRegisterForRemoteNotifications(token)
	for {
		select {
		case t := <-s.transitions:
			if push.InFlight(t.To) {
				continue
			}
			if failed, ok := t.To.(push.AfterRegistrationUpdateFailed); ok {
				return fmt.Errorf("update registration: %w", failed.Err)
			}
			fmt.Fprintf(a.out, "state %s\n", t.To.Tag())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *app) status(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.Load(ctx)
	if err != nil {
		return err
	}
	printRecord(a.out, rec)
	return nil
}

func printRecord(w io.Writer, rec push.PersistedRecord) {
	fmt.Fprintf(w, "state:       %s\n", rec.State.Tag())
	fmt.Fprintf(w, "device id:   %s\n", rec.Device.DeviceID)
	fmt.Fprintf(w, "push token:  %s\n", rec.Device.TokenHex())
	fmt.Fprintf(w, "registered:  %t\n", rec.Device.IsRegistered())
	if failed, ok := rec.State.(push.AfterRegistrationUpdateFailed); ok && failed.Err != nil {
		fmt.Fprintf(w, "last error:  %s\n", failed.Err)
	}
	if failed, ok := rec.State.(push.AfterDeregistrationFailed); ok && failed.Err != nil {
		fmt.Fprintf(w, "last error:  %s\n", failed.Err)
	}
}
