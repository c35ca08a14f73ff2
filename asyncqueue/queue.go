// Package asyncqueue implements an asynchronous FIFO rendezvous point
// between put and get callers, built on the same pattern as rwlock: a
// mutex-guarded waiter queue served under an invariant.
package asyncqueue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/slon/cooplock/cancel"
	"github.com/slon/cooplock/future"
	"github.com/slon/cooplock/internal/waitqueue"
)

// Queue is an asynchronous FIFO rendezvous queue of T. The zero value is
// not usable; construct with New.
type Queue[T any] struct {
	mu        sync.Mutex
	available *waitqueue.Queue[*future.Future[T]]
	pending   *waitqueue.Queue[*pendingGet[T]]

	logger  *slog.Logger
	metrics *Metrics
}

type pendingGet[T any] struct {
	fut *future.Future[T]
	reg cancel.Registration
	// claimed is set, under Queue.mu, the instant a put() rendezvouses
	// with this waiter — before the waiter's Future necessarily settles,
	// since settling a forwarded-but-not-yet-resolved deferred can take
	// arbitrarily long. The cancellation callback checks claimed instead
	// of fut.Done() so a cancellation racing a rendezvous can never
	// reject a Future that has already been promised a value.
	claimed bool
}

// Option configures a Queue at construction time.
type Option[T any] func(*Queue[T])

// WithLogger overrides the *slog.Logger a Queue logs transitions to.
// The default is slog.Default().
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(q *Queue[T]) { q.logger = l }
}

// WithMetrics registers m to be updated on every put/get transition.
func WithMetrics[T any](m *Metrics) Option[T] {
	return func(q *Queue[T]) { q.metrics = m }
}

// New creates a Queue, optionally pre-buffering initial with each element
// wrapped as an already-resolved future.
func New[T any](initial []T, opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		available: waitqueue.New[*future.Future[T]](),
		pending:   waitqueue.New[*pendingGet[T]](),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	for _, v := range initial {
		q.available.PushBack(future.Resolved(v))
	}
	q.reportSize()
	return q
}

// Put delivers v to the head-queued consumer if one is waiting, otherwise
// buffers it. Put never blocks.
func (q *Queue[T]) Put(v T) {
	q.put(future.Resolved(v))
}

// PutError is the rejecting counterpart of Put: the next consumer to
// rendezvous with this slot receives err instead of a value.
func (q *Queue[T]) PutError(err error) {
	q.put(future.Rejected[T](err))
}

// PutDeferred delivers an already-pending future to the queue. If d has
// not yet settled, its eventual outcome is propagated unwrapped to
// whichever consumer rendezvouses with it.
func (q *Queue[T]) PutDeferred(d *future.Future[T]) {
	q.put(d)
}

func (q *Queue[T]) put(d *future.Future[T]) {
	id := mustID()

	q.mu.Lock()
	head, ok := q.pending.ShiftFront()
	if !ok {
		q.available.PushBack(d)
		q.logger.Debug("asyncqueue: put buffered", "id", id)
		q.reportSize()
		q.mu.Unlock()
		return
	}
	head.reg.Unregister()
	head.claimed = true
	v, err, settled := d.Peek()
	q.reportSize()
	q.mu.Unlock()

	q.logger.Debug("asyncqueue: put rendezvoused with waiting consumer", "id", id)
	if settled {
		if err != nil {
			head.fut.Reject(err)
		} else {
			head.fut.Resolve(v)
		}
		return
	}
	// d is an externally-supplied deferred that has not settled yet;
	// forward its eventual outcome without blocking this Put call. The
	// waiter is already claimed, so a concurrent cancellation cannot
	// steal it out from under this goroutine. This goroutine has no
	// cancellation path of its own: PutDeferred's contract is that d
	// eventually settles, and if it never does, this forwarder leaks for
	// as long as d is live.
	go func() {
		v, err := d.Await(context.Background())
		if err != nil {
			head.fut.Reject(err)
		} else {
			head.fut.Resolve(v)
		}
	}()
}

// Get returns a Future that resolves with the head of the buffer, or
// parks a new waiter if the buffer is empty. If the buffer is empty and
// token is already cancelled, the returned Future rejects immediately; a
// buffered value is handed out regardless of token.
func (q *Queue[T]) Get(token cancel.Token) *future.Future[T] {
	if token == nil {
		token = cancel.None()
	}

	q.mu.Lock()

	if d, ok := q.available.ShiftFront(); ok {
		q.reportSize()
		q.mu.Unlock()
		return d
	}

	if err := token.ThrowIfCancelled(); err != nil {
		q.mu.Unlock()
		return future.Rejected[T](err)
	}

	fut := future.New[T]()
	pg := &pendingGet[T]{fut: fut}
	node := q.pending.PushBack(pg)
	q.reportSize()

	pg.reg = token.Register(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if pg.claimed {
			return
		}
		q.pending.Remove(node)
		q.reportSize()
		fut.Reject(cancel.ErrCancelled)
	})
	q.mu.Unlock()
	return fut
}

// GetContext adapts a context.Context into the Token form Get expects,
// for callers that already have one on hand.
func (q *Queue[T]) GetContext(ctx context.Context) *future.Future[T] {
	return q.Get(cancel.FromContext(ctx))
}

// Size reports +len(buffered) when positive, -len(waiting consumers) when
// negative, 0 when idle.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := q.available.Len(); n > 0 {
		return n
	}
	return -q.pending.Len()
}

func (q *Queue[T]) reportSize() {
	if q.metrics == nil {
		return
	}
	q.metrics.observe(q.available.Len(), q.pending.Len())
}

func mustID() uuid.UUID {
	id, err := uuid.NewV4()
	if err != nil {
		// crypto/rand exhaustion is not a condition this package
		// tries to recover from; it would indicate a broken host.
		return uuid.Nil
	}
	return id
}
