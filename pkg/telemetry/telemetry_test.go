package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// Disabled telemetry hands back working no-op providers so callers never
// branch on the enabled flag.
func TestDisabledReturnsNoopProviders(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)

	_, span := tel.Tracer.Start(context.Background(), "op")
	span.End()

	counter, err := tel.Meter.Int64Counter("ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, shutdown(context.Background()))
}
