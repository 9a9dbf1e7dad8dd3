package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypush/relaypush/internal/config"
	"github.com/relaypush/relaypush/internal/push"
)

type fakeGateway struct {
	registered []push.DeviceDetails
	updated    []push.DeviceDetails
	deregs     int
}

func (f *fakeGateway) gateway() push.FuncGateway {
	return push.FuncGateway{
		RegisterFunc: func(_ context.Context, details push.DeviceDetails) (string, error) {
			f.registered = append(f.registered, details)
			return "update-token", nil
		},
		UpdateFunc: func(_ context.Context, details push.DeviceDetails, _ push.DeviceIdentity) error {
			f.updated = append(f.updated, details)
			return nil
		},
		DeregisterFunc: func(context.Context, push.DeviceIdentity) error {
			f.deregs++
			return nil
		},
	}
}

func newTestApp(t *testing.T, gw push.RegistrationGateway) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Kind = config.StoreFile
	cfg.Store.Path = filepath.Join(t.TempDir(), "state.bin")

	var out bytes.Buffer
	return &app{
		cfg:     cfg,
		log:     zerolog.Nop(),
		out:     &out,
		gateway: gw,
	}, &out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseToken(t *testing.T) {
	token, err := parseToken("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, token)

	token, err = parseToken("")
	require.NoError(t, err)
	assert.Nil(t, token)

	_, err = parseToken("xyz")
	assert.Error(t, err)
}

func TestDeviceTemplate(t *testing.T) {
	tmpl := deviceTemplate(config.DeviceConfig{
		ClientID:   "client-1",
		Platform:   "android",
		FormFactor: "tablet",
		Transport:  "fcm",
	})

	assert.Equal(t, push.TransportFCM, tmpl.TransportType)
	assert.Equal(t, "android", tmpl.Platform)
	assert.Equal(t, "client-1", tmpl.ClientID)
}

func TestDispatch_Usage(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := testContext(t)

	assert.ErrorIs(t, a.dispatch(ctx, "bogus", nil), errUsage)
	assert.ErrorIs(t, a.dispatch(ctx, "token", nil), errUsage)
	assert.ErrorIs(t, a.dispatch(ctx, "activate", []string{"-nope"}), errUsage)
}

func TestActivateThenStatus(t *testing.T) {
	gw := &fakeGateway{}
	a, out := newTestApp(t, gw.gateway())
	ctx := testContext(t)

	require.NoError(t, a.dispatch(ctx, "activate", []string{"-token", "0a0b"}))
	assert.Contains(t, out.String(), "activated device ")
	require.Len(t, gw.registered, 1)
	assert.Equal(t, "0a0b", gw.registered[0].Push.Recipient.DeviceToken)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "status", nil))
	assert.Contains(t, out.String(), "state:       Activated")
	assert.Contains(t, out.String(), "push token:  0a0b")
	assert.Contains(t, out.String(), "registered:  true")
}

func TestTokenRotation(t *testing.T) {
	gw := &fakeGateway{}
	a, out := newTestApp(t, gw.gateway())
	ctx := testContext(t)

	require.NoError(t, a.dispatch(ctx, "activate", []string{"-token", "0a0b"}))

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "token", []string{"0c0d"}))
	assert.Contains(t, out.String(), "state Activated")
	require.Len(t, gw.updated, 1)
	assert.Equal(t, "0c0d", gw.updated[0].Push.Recipient.DeviceToken)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "token", []string{"0c0d"}))
	assert.Contains(t, out.String(), "token unchanged")
	assert.Len(t, gw.updated, 1)
}

func TestDeactivate(t *testing.T) {
	gw := &fakeGateway{}
	a, out := newTestApp(t, gw.gateway())
	ctx := testContext(t)

	require.NoError(t, a.dispatch(ctx, "activate", nil))
	require.NoError(t, a.dispatch(ctx, "deactivate", nil))
	assert.Contains(t, out.String(), "deactivated device ")
	assert.Equal(t, 1, gw.deregs)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "status", nil))
	assert.Contains(t, out.String(), "state:       NotActivated")
	assert.Contains(t, out.String(), "registered:  false")
}

func TestPrintRecord_Failure(t *testing.T) {
	var out bytes.Buffer
	printRecord(&out, push.PersistedRecord{
		State: push.AfterDeregistrationFailed{Err: push.NewErrorInfo(push.KindTransport, 50300, "unavailable", nil)},
	})
	assert.Contains(t, out.String(), "AfterDeregistrationFailed")
	assert.Contains(t, out.String(), "last error:  TransportError: unavailable")
}
