package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNoneNeverCancels(t *testing.T) {
	tok := None()
	require.False(t, tok.IsCancelled())
	require.NoError(t, tok.ThrowIfCancelled())

	reg := tok.Register(func() { t.Fatal("callback must never run") })
	reg.Unregister()
}

func TestFromContextReflectsCancellation(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	tok := FromContext(ctx)
	require.False(t, tok.IsCancelled())

	cancelCtx()
	require.True(t, tok.IsCancelled())
	require.ErrorIs(t, tok.ThrowIfCancelled(), ErrCancelled)
}

func TestFromContextNilIsNeverCancelled(t *testing.T) {
	tok := FromContext(nil)
	require.False(t, tok.IsCancelled())
}

func TestRegisterFiresOnCancellation(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	tok := FromContext(ctx)

	fired := make(chan struct{})
	tok.Register(func() { close(fired) })

	cancelCtx()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire after cancellation")
	}
}

func TestRegisterOnAlreadyCancelledRunsAsynchronously(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()
	tok := FromContext(ctx)

	registered := make(chan struct{})
	fired := make(chan struct{})
	tok.Register(func() {
		// A cb run synchronously inside Register would time out here,
		// since registered is only closed after Register returns.
		select {
		case <-registered:
			close(fired)
		case <-time.After(time.Second):
		}
	})
	close(registered)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire asynchronously for an already-cancelled token")
	}
}

func TestUnregisterPreventsCallback(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	tok := FromContext(ctx)

	reg := tok.Register(func() { t.Fatal("callback must not run after Unregister") })
	reg.Unregister()
	cancelCtx()

	// Give any stray goroutine a chance to misbehave before the test exits.
	time.Sleep(10 * time.Millisecond)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	tok := FromContext(ctx)

	reg := tok.Register(func() {})
	reg.Unregister()
	reg.Unregister()
}
