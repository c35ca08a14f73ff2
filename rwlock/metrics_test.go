package rwlock

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsTrackHoldersAcrossAcquireRelease(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	l := New(WithMetrics(m))

	w, err := l.Write(nil).Await(context.Background())
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.holders.WithLabelValues("writer")))
	require.NoError(t, w.Release())
	require.Equal(t, float64(0), testutil.ToFloat64(m.holders.WithLabelValues("writer")))
}

func TestMetricsTrackQueueDepthAcrossQueueAndGrant(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	l := New(WithMetrics(m))

	w, err := l.Write(nil).Await(context.Background())
	require.NoError(t, err)

	fut := l.Write(nil)
	require.Equal(t, float64(1), testutil.ToFloat64(m.queueDepth.WithLabelValues("writer")))

	require.NoError(t, w.Release())
	_, err = fut.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(0), testutil.ToFloat64(m.queueDepth.WithLabelValues("writer")))
}

func TestMetricsTrackCancellations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	l := New(WithMetrics(m))

	w, err := l.Write(nil).Await(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fut := l.WriteContext(ctx)
	cancel()
	_, err = fut.Await(context.Background())
	require.Error(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.cancelsTotal.WithLabelValues("writer")))
	require.NoError(t, w.Release())
}
