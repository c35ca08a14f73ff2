// Package cancel models a cancellation token: is-cancelled, throw-if-
// cancelled, and register(callback)->registration with an unregister on
// the registration. The natural backing primitive in Go is
// context.Context, so Token is realized as a small adapter over one,
// using the familiar ctx-select idiom for the callback-on-cancel case.
package cancel

import (
	"context"
	"errors"
)

// ErrCancelled is the sentinel error surfaced when a token is, or
// becomes, cancelled.
var ErrCancelled = errors.New("cancel: operation cancelled")

// Token is the cancellation-token collaborator.
type Token interface {
	// IsCancelled reports whether the token has already fired.
	IsCancelled() bool

	// ThrowIfCancelled returns ErrCancelled if the token has already
	// fired, nil otherwise.
	ThrowIfCancelled() error

	// Register arranges for cb to run (at most once) when the token
	// fires, including if it has already fired — cb always runs on its
	// own goroutine, never synchronously on the caller's, so that a
	// caller holding a lock when it calls Register is never re-entered
	// by its own cb. The returned Registration can be used to stop that
	// from happening.
	Register(cb func()) Registration
}

// Registration is returned by Token.Register.
type Registration interface {
	// Unregister cancels a pending callback. It is a no-op if the
	// callback already ran or was already unregistered.
	Unregister()
}

// None returns a Token that never cancels, accepted everywhere a Token
// is expected.
func None() Token {
	return ctxToken{ctx: context.Background()}
}

// FromContext adapts a context.Context into a Token. A nil ctx is treated
// like context.Background() (never cancelled).
func FromContext(ctx context.Context) Token {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctxToken{ctx: ctx}
}

type ctxToken struct {
	ctx context.Context
}

func (t ctxToken) IsCancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

func (t ctxToken) ThrowIfCancelled() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

func (t ctxToken) Register(cb func()) Registration {
	if t.ctx.Done() == nil {
		// Background-like context: can never fire, nothing to watch.
		return noopRegistration{}
	}

	// Always watch asynchronously, even if t is already cancelled: the
	// ctx.Done() case fires immediately in that case, but on its own
	// goroutine, so cb never runs on the stack of whatever goroutine
	// called Register — callers routinely call Register while holding a
	// lock that cb itself needs to re-acquire.
	stop := make(chan struct{})
	go func() {
		select {
		case <-t.ctx.Done():
			// select picks at random when both are ready; an Unregister
			// that already happened still wins.
			select {
			case <-stop:
				return
			default:
			}
			cb()
		case <-stop:
		}
	}()
	return &ctxRegistration{stop: stop}
}

// ctxRegistration.Unregister deliberately does not wait for the watcher
// goroutine to exit: callers invoke Unregister from inside the very mutex
// that cb itself needs to take, so blocking here would deadlock against a
// cb that lost the race by a hair. Both sides are idempotent (see
// rwlock/lock.go and asyncqueue/queue.go), so a cb that fires just after
// Unregister is a safe no-op rather than a double-wake.
type ctxRegistration struct {
	unregistered bool
	stop         chan struct{}
}

func (r *ctxRegistration) Unregister() {
	if r.unregistered {
		return
	}
	r.unregistered = true
	close(r.stop)
}

type noopRegistration struct{}

func (noopRegistration) Unregister() {}
