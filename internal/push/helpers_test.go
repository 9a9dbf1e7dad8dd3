package push_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaypush/relaypush/internal/push"
)

// fakeGateway records calls and lets tests hold each operation open.
type fakeGateway struct {
	mu          sync.Mutex
	registers   []push.DeviceDetails
	updates     []push.DeviceIdentity
	deregisters []push.DeviceIdentity

	updateToken   string
	registerErr   error
	updateErr     error
	deregisterErr error

	registerHold   chan struct{}
	updateHold     chan struct{}
	deregisterHold chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{updateToken: "u1"}
}

func wait(ctx context.Context, hold chan struct{}) error {
	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGateway) Register(ctx context.Context, details push.DeviceDetails) (string, error) {
	g.mu.Lock()
	g.registers = append(g.registers, details)
	hold, token, err := g.registerHold, g.updateToken, g.registerErr
	g.mu.Unlock()

	if werr := wait(ctx, hold); werr != nil {
		return "", werr
	}
	return token, err
}

func (g *fakeGateway) Update(ctx context.Context, _ push.DeviceDetails, device push.DeviceIdentity) error {
	g.mu.Lock()
	g.updates = append(g.updates, device)
	hold, err := g.updateHold, g.updateErr
	g.mu.Unlock()

	if werr := wait(ctx, hold); werr != nil {
		return werr
	}
	return err
}

func (g *fakeGateway) Deregister(ctx context.Context, device push.DeviceIdentity) error {
	g.mu.Lock()
	g.deregisters = append(g.deregisters, device)
	hold, err := g.deregisterHold, g.deregisterErr
	g.mu.Unlock()

	if werr := wait(ctx, hold); werr != nil {
		return werr
	}
	return err
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) counts() (registers, updates, deregisters int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.registers), len(g.updates), len(g.deregisters)
}

// tokenCounter counts OS token requests.
type tokenCounter struct {
	mu sync.Mutex
	n  int
}

func (c *tokenCounter) RequestToken(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *tokenCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func seedStore(t *testing.T, state push.State, device push.DeviceIdentity) *push.MemoryStore {
	t.Helper()
	store := push.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), push.PersistedRecord{State: state, Device: device}))
	return store
}

func registeredDevice() push.DeviceIdentity {
	return push.DeviceIdentity{
		DeviceID:    "device-1",
		Token:       []byte{0xde, 0xad, 0xbe, 0xef},
		UpdateToken: "u0",
		Secret:      "secret",
	}
}

func startMachine(t *testing.T, store push.StateStore, gw push.RegistrationGateway, tokens push.TokenRequester) *push.Machine {
	t.Helper()
	m, err := push.NewMachine(push.MachineConfig{
		Store:          store,
		Gateway:        gw,
		TokenRequester: tokens,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func requireState(t *testing.T, m interface{ State() push.State }, want push.StateTag) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State().Tag() == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s (got %s)", want, m.State().Tag())
}

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// flakyStore fails every save of one state and passes the rest through.
type flakyStore struct {
	*push.MemoryStore

	mu     sync.Mutex
	failOn push.StateTag
}

func (s *flakyStore) failSavesOf(tag push.StateTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = tag
}

func (s *flakyStore) Save(ctx context.Context, rec push.PersistedRecord) error {
	s.mu.Lock()
	fail := s.failOn != 0 && rec.State.Tag() == s.failOn
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, rec)
}
