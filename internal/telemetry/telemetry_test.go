package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypush/relaypush/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		SampleRatio:    0.25,
	})
	require.NoError(t, err)

	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	_, err = provider.Meter.Int64Counter("relaypush.test.counter")
	assert.NoError(t, err)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_ShutdownWithoutProviders(t *testing.T) {
	assert.NoError(t, (&telemetry.Provider{}).Shutdown(context.Background()))
}

func TestEnvironmentFromRelease(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"", "development"},
		{"dev", "development"},
		{"1.4.0-rc.1", "staging"},
		{"1.4.0", "production"},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, telemetry.EnvironmentFromRelease(tt.version))
		})
	}
}
