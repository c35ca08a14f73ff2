package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvedIsImmediatelyDone(t *testing.T) {
	f := Resolved(42)
	require.True(t, f.Done())

	v, err, ok := f.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestRejectedIsImmediatelyDone(t *testing.T) {
	wantErr := errors.New("boom")
	f := Rejected[int](wantErr)
	require.True(t, f.Done())

	_, err, ok := f.Peek()
	require.True(t, ok)
	require.ErrorIs(t, err, wantErr)
}

func TestPeekBeforeResolveIsNotOK(t *testing.T) {
	f := New[string]()
	_, _, ok := f.Peek()
	require.False(t, ok)
}

func TestResolveIsIdempotent(t *testing.T) {
	f := New[int]()
	f.Resolve(1)
	f.Resolve(2)
	f.Reject(errors.New("ignored"))

	v, err, ok := f.Peek()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestAwaitBlocksUntilResolve(t *testing.T) {
	f := New[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var gotErr error
	go func() {
		defer wg.Done()
		got, gotErr = f.Await(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	f.Resolve(7)
	wg.Wait()

	require.NoError(t, gotErr)
	require.Equal(t, 7, got)
}

func TestAwaitReturnsImmediatelyWhenAlreadyDone(t *testing.T) {
	f := Resolved("hi")
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hi", v)
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitAfterCancelDoesNotRaceResolve(t *testing.T) {
	f := New[int]()
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()

	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// A later resolve must not panic or deadlock even though the Awaiter
	// above already gave up.
	f.Resolve(1)
	v, rerr, ok := f.Peek()
	require.True(t, ok)
	require.NoError(t, rerr)
	require.Equal(t, 1, v)
}

func TestMultipleAwaitersAllObserveTheSameOutcome(t *testing.T) {
	f := New[int]()
	const n = 20

	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Await(context.Background())
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	f.Resolve(99)
	wg.Wait()

	for _, r := range results {
		require.Equal(t, 99, r)
	}
}
