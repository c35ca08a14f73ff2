package asyncqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/slon/cooplock/future"
	"github.com/slon/cooplock/testsync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewBuffersInitialValuesInOrder(t *testing.T) {
	q := New([]int{1, 2, 3})
	require.Equal(t, 3, q.Size())

	for _, want := range []int{1, 2, 3} {
		v, err := q.Get(nil).Await(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	require.Equal(t, 0, q.Size())
}

func TestPutThenGetDeliversImmediately(t *testing.T) {
	q := New[string](nil)
	q.Put("hello")

	v, err := q.Get(nil).Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestGetThenPutParksAndRendezvouses(t *testing.T) {
	q := New[int](nil)
	fut := q.Get(nil)

	require.Equal(t, -1, q.Size())
	require.False(t, fut.Done())

	q.Put(5)
	v, err := fut.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, v)
}

func TestPutErrorRejectsTheWaiter(t *testing.T) {
	q := New[int](nil)
	fut := q.Get(nil)

	boom := errors.New("boom")
	q.PutError(boom)

	_, err := fut.Await(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestFIFOOrderingAcrossMultipleWaiters(t *testing.T) {
	q := New[int](nil)
	const n = 10

	futs := make([]*future.Future[int], n)
	for i := 0; i < n; i++ {
		futs[i] = q.Get(nil)
	}
	for i := 0; i < n; i++ {
		q.Put(i)
	}

	for i := 0; i < n; i++ {
		v, err := futs[i].Await(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

func TestPutDeferredForwardsUnresolvedOutcome(t *testing.T) {
	q := New[int](nil)
	d := future.New[int]()
	q.PutDeferred(d)

	got := q.Get(nil)
	require.False(t, got.Done())

	d.Resolve(42)
	v, err := got.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestGetWithAlreadyCancelledTokenRejectsImmediately(t *testing.T) {
	q := New[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fut := q.GetContext(ctx)
	_, err := fut.Await(context.Background())
	require.Error(t, err)
}

func TestCancellationExcisesWaiterWithoutPhantomWake(t *testing.T) {
	q := New[int](nil)
	ctx, cancel := context.WithCancel(context.Background())

	fut := q.GetContext(ctx)
	cancel()

	select {
	case <-awaitDone(fut):
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never settled")
	}
	_, err, ok := fut.Peek()
	require.True(t, ok)
	require.Error(t, err)

	// A later Put must not find a claimed-but-gone waiter; it should
	// buffer instead of leaking the value.
	q.Put(1)
	require.Equal(t, 1, q.Size())
}

func awaitDone(fut *future.Future[int]) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		fut.Await(context.Background())
		close(done)
	}()
	return done
}

func TestConcurrentProducersConsumersDeliverEveryValueExactlyOnce(t *testing.T) {
	q := New[int](nil)
	const n = 200

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			q.Put(i)
			return nil
		})
	}

	var mu sync.Mutex
	seen := make(map[int]bool, n)
	latch := testsync.NewLatch(n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer latch.Arrive()
			v, err := q.Get(nil).Await(context.Background())
			if err != nil {
				return err
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, g.Wait())
	latch.Wait()
	require.Len(t, seen, n)
}

func TestMetricsObserveBufferedAndWaiting(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	q := New[int](nil, WithMetrics[int](m))

	q.Put(1)
	q.Put(2)
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
	require.Equal(t, float64(2), testutil.ToFloat64(m.buffered))
	require.Equal(t, float64(0), testutil.ToFloat64(m.consumers))
}
