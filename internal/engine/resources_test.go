package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huginnscan/huginn/internal/metrics"
)

func TestResourceManagerAcquireRelease(t *testing.T) {
	rm := NewResourceManager(2, nil)
	ctx := context.Background()

	require.NoError(t, rm.Acquire(ctx, "a"))
	require.NoError(t, rm.Acquire(ctx, "b"))
	assert.Equal(t, 2, rm.ActiveCount())

	rm.Release("a")
	assert.Equal(t, 1, rm.ActiveCount())
	require.NoError(t, rm.Acquire(ctx, "c"))
	assert.Equal(t, 2, rm.ActiveCount())
}

func TestResourceManagerBlocksAtLimit(t *testing.T) {
	rm := NewResourceManager(1, nil)
	require.NoError(t, rm.Acquire(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rm.Acquire(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResourceManagerReleaseUnknownIsNoop(t *testing.T) {
	rm := NewResourceManager(1, nil)
	rm.Release("never-acquired")
	assert.Equal(t, 0, rm.ActiveCount())

	require.NoError(t, rm.Acquire(context.Background(), "a"))
	assert.Equal(t, 1, rm.ActiveCount())
}

func TestResourceManagerMinimumLimit(t *testing.T) {
	rm := NewResourceManager(0, nil)
	assert.Equal(t, 1, rm.Limit())
}

func TestResourceManagerUpdatesGauges(t *testing.T) {
	m := metrics.New()
	rm := NewResourceManager(2, m)

	require.NoError(t, rm.Acquire(context.Background(), "a"))
	require.NoError(t, rm.Acquire(context.Background(), "b"))
	assert.Equal(t, 2.0, gaugeValue(t, m, "huginn_engine_permits_held"))
	assert.Equal(t, 2.0, gaugeValue(t, m, "huginn_probe_active"))

	rm.Release("a")
	assert.Equal(t, 1.0, gaugeValue(t, m, "huginn_engine_permits_held"))
	assert.Equal(t, 1.0, gaugeValue(t, m, "huginn_probe_active"))
}

func gaugeValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s not found", name)
	return 0
}
