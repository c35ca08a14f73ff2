// Package rwlock implements a reader-writer lock with upgrade: four
// coordinated roles (reader, writer, upgradeable reader, upgraded writer)
// sharing one compact census, a writer-priority admission policy, and
// cancellable waits.
//
// Every acquire, release, upgrade and cancellation callback runs inside
// one sync.Mutex critical section, so no two mutations of the lock's
// state ever interleave.
package rwlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slon/cooplock/cancel"
	"github.com/slon/cooplock/future"
	"github.com/slon/cooplock/internal/waitqueue"
)

// ErrLockReleased is returned when a handle's Release or Upgrade is
// invoked after that handle is no longer current — a caller bug, not a
// recoverable condition.
var ErrLockReleased = errors.New("rwlock: handle already released")

// Lock is a reader-writer lock with upgrade. The zero value is not
// usable; construct with New.
type Lock struct {
	mu sync.Mutex

	// count encodes the census: 0 idle, >0 active readers (upgradeable
	// counted as one), -1 a single exclusive holder (plain writer or
	// upgraded writer).
	count int

	upgradeable *UpgradeableHandle
	upgraded    *UpgradedHandle

	readers      *waitqueue.Queue[*readerWaiter]
	upgradeables *waitqueue.Queue[*upgradeableWaiter]
	upgrades     *waitqueue.Queue[*upgradeWaiter]
	writers      *waitqueue.Queue[*writerWaiter]

	logger  *slog.Logger
	metrics *Metrics
}

type readerWaiter struct {
	fut *future.Future[*ReaderHandle]
	reg cancel.Registration
}

type writerWaiter struct {
	fut *future.Future[*WriterHandle]
	reg cancel.Registration
}

type upgradeableWaiter struct {
	fut *future.Future[*UpgradeableHandle]
	reg cancel.Registration
}

type upgradeWaiter struct {
	fut    *future.Future[*UpgradedHandle]
	reg    cancel.Registration
	source *UpgradeableHandle
}

// Option configures a Lock at construction time.
type Option func(*Lock)

// WithLogger overrides the *slog.Logger a Lock logs transitions to. The
// default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lk *Lock) { lk.logger = l }
}

// WithMetrics registers m to be updated on every acquire/release/cancel
// transition.
func WithMetrics(m *Metrics) Option {
	return func(lk *Lock) { lk.metrics = m }
}

// New creates an idle Lock.
func New(opts ...Option) *Lock {
	l := &Lock{
		readers:      waitqueue.New[*readerWaiter](),
		upgradeables: waitqueue.New[*upgradeableWaiter](),
		upgrades:     waitqueue.New[*upgradeWaiter](),
		writers:      waitqueue.New[*writerWaiter](),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// --- admission predicates ---

func (l *Lock) canTakeRead() bool {
	return l.count >= 0 && l.writers.Len() == 0 && l.upgrades.Len() == 0
}

func (l *Lock) canTakeUpgradeableRead() bool {
	return l.count >= 0 && l.upgradeable == nil
}

func (l *Lock) canTakeWrite() bool {
	return l.count == 0
}

func (l *Lock) canTakeUpgrade() bool {
	return l.count == 1 && l.upgradeable != nil && l.upgraded == nil
}

// --- acquire actions ---

func (l *Lock) takeReadLocked() *ReaderHandle {
	l.count++
	h := &ReaderHandle{lock: l}
	l.observeAcquire(roleReader)
	return h
}

func (l *Lock) takeWriteLocked() *WriterHandle {
	l.count = -1
	h := &WriterHandle{lock: l}
	l.observeAcquire(roleWriter)
	return h
}

func (l *Lock) takeUpgradeableLocked() *UpgradeableHandle {
	l.count++
	h := &UpgradeableHandle{lock: l}
	l.upgradeable = h
	l.observeAcquire(roleUpgradeable)
	return h
}

func (l *Lock) takeUpgradeLocked(source *UpgradeableHandle) *UpgradedHandle {
	l.count = -1
	h := &UpgradedHandle{lock: l, source: source}
	l.upgraded = h
	l.observeUpgrade()
	return h
}

// --- public acquire operations ---

// Read requests the shared reader role. token may be nil, equivalent to
// cancel.None().
func (l *Lock) Read(token Token) *future.Future[*ReaderHandle] {
	token = orNone(token)

	l.mu.Lock()
	if err := token.ThrowIfCancelled(); err != nil {
		l.mu.Unlock()
		return future.Rejected[*ReaderHandle](err)
	}
	if l.canTakeRead() {
		h := l.takeReadLocked()
		l.mu.Unlock()
		return future.Resolved(h)
	}

	w := &readerWaiter{fut: future.New[*ReaderHandle]()}
	node := l.readers.PushBack(w)
	l.observeQueued(roleReader)
	w.reg = token.Register(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.fut.Done() {
			return
		}
		l.readers.Remove(node)
		l.observeCancelled(roleReader)
		w.fut.Reject(cancel.ErrCancelled)
		l.reschedule()
	})
	l.mu.Unlock()
	return w.fut
}

// ReadContext adapts a context.Context into the Token form Read expects.
func (l *Lock) ReadContext(ctx context.Context) *future.Future[*ReaderHandle] {
	return l.Read(cancel.FromContext(ctx))
}

// Write requests the exclusive writer role.
func (l *Lock) Write(token Token) *future.Future[*WriterHandle] {
	token = orNone(token)

	l.mu.Lock()
	if err := token.ThrowIfCancelled(); err != nil {
		l.mu.Unlock()
		return future.Rejected[*WriterHandle](err)
	}
	if l.canTakeWrite() {
		h := l.takeWriteLocked()
		l.mu.Unlock()
		return future.Resolved(h)
	}

	w := &writerWaiter{fut: future.New[*WriterHandle]()}
	node := l.writers.PushBack(w)
	l.observeQueued(roleWriter)
	w.reg = token.Register(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.fut.Done() {
			return
		}
		l.writers.Remove(node)
		l.observeCancelled(roleWriter)
		w.fut.Reject(cancel.ErrCancelled)
		l.reschedule()
	})
	l.mu.Unlock()
	return w.fut
}

// WriteContext adapts a context.Context into the Token form Write expects.
func (l *Lock) WriteContext(ctx context.Context) *future.Future[*WriterHandle] {
	return l.Write(cancel.FromContext(ctx))
}

// UpgradeableRead requests the singleton upgradeable-reader role.
func (l *Lock) UpgradeableRead(token Token) *future.Future[*UpgradeableHandle] {
	token = orNone(token)

	l.mu.Lock()
	if err := token.ThrowIfCancelled(); err != nil {
		l.mu.Unlock()
		return future.Rejected[*UpgradeableHandle](err)
	}
	if l.canTakeUpgradeableRead() {
		h := l.takeUpgradeableLocked()
		l.mu.Unlock()
		return future.Resolved(h)
	}

	w := &upgradeableWaiter{fut: future.New[*UpgradeableHandle]()}
	node := l.upgradeables.PushBack(w)
	l.observeQueued(roleUpgradeable)
	w.reg = token.Register(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.fut.Done() {
			return
		}
		l.upgradeables.Remove(node)
		l.observeCancelled(roleUpgradeable)
		w.fut.Reject(cancel.ErrCancelled)
		l.reschedule()
	})
	l.mu.Unlock()
	return w.fut
}

// UpgradeableReadContext adapts a context.Context into the Token form
// UpgradeableRead expects.
func (l *Lock) UpgradeableReadContext(ctx context.Context) *future.Future[*UpgradeableHandle] {
	return l.UpgradeableRead(cancel.FromContext(ctx))
}

// upgrade implements UpgradeableHandle.Upgrade.
func (l *Lock) upgrade(h *UpgradeableHandle, token Token) *future.Future[*UpgradedHandle] {
	token = orNone(token)

	l.mu.Lock()
	if h.released || h != l.upgradeable {
		l.mu.Unlock()
		return future.Rejected[*UpgradedHandle](errAlreadyReleased("upgradeable"))
	}
	if err := token.ThrowIfCancelled(); err != nil {
		l.mu.Unlock()
		return future.Rejected[*UpgradedHandle](err)
	}
	if l.canTakeUpgrade() {
		hu := l.takeUpgradeLocked(h)
		l.mu.Unlock()
		return future.Resolved(hu)
	}

	w := &upgradeWaiter{fut: future.New[*UpgradedHandle](), source: h}
	node := l.upgrades.PushBack(w)
	l.observeQueued(roleUpgrade)
	w.reg = token.Register(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.fut.Done() {
			return
		}
		l.upgrades.Remove(node)
		l.observeCancelled(roleUpgrade)
		w.fut.Reject(cancel.ErrCancelled)
		l.reschedule()
	})
	l.mu.Unlock()
	return w.fut
}

func orNone(t Token) Token {
	if t == nil {
		return cancel.None()
	}
	return t
}

// --- release actions ---

func (l *Lock) releaseReader(h *ReaderHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.released {
		return errAlreadyReleased("reader")
	}
	h.released = true
	l.count--
	l.observeRelease(roleReader)
	l.reschedule()
	return nil
}

func (l *Lock) releaseWriter(h *WriterHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.released {
		return errAlreadyReleased("writer")
	}
	h.released = true
	l.count = 0
	l.observeRelease(roleWriter)
	l.reschedule()
	return nil
}

func (l *Lock) releaseUpgradeable(h *UpgradeableHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.released || h != l.upgradeable {
		return errAlreadyReleased("upgradeable")
	}
	if l.upgraded != nil {
		// Releasing the upgradeable handle while its upgrade is still held
		// is a programmer error, not an implicit release of both roles.
		// Release the UpgradedHandle first.
		return fmt.Errorf("rwlock: upgradeable handle still has an active upgrade: %w", ErrLockReleased)
	}
	// An Upgrade call sourced from h may still be parked in l.upgrades
	// (its own token fired after Await returned, or the caller simply
	// never awaited it) — left queued, it would bar canTakeRead forever
	// and later be granted against an already-released handle. Excise it
	// first.
	for _, w := range l.upgrades.RemoveMatching(func(w *upgradeWaiter) bool { return w.source == h }) {
		w.reg.Unregister()
		l.observeCancelled(roleUpgrade)
		w.fut.Reject(fmt.Errorf("rwlock: source upgradeable handle released before upgrade was granted: %w", ErrLockReleased))
	}
	h.released = true
	l.count--
	l.upgradeable = nil
	l.observeRelease(roleUpgradeable)
	l.reschedule()
	return nil
}

func (l *Lock) releaseUpgraded(h *UpgradedHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.released || l.upgraded != h {
		return errAlreadyReleased("upgraded")
	}
	h.released = true
	l.upgraded = nil
	l.count = 1
	l.observeRelease(roleUpgrade)
	l.reschedule()
	return nil
}

// --- scheduling policy ---

// reschedule is invoked after any release or cancellation and processes
// the four queues in strict priority order, stopping at the first step
// that wakes a waiter — writers and the in-flight upgrade take priority
// over new upgradeables, which in turn take priority over batching
// readers.
func (l *Lock) reschedule() {
	if l.canTakeWrite() {
		if w, ok := l.writers.ShiftFront(); ok {
			l.grantWrite(w)
			return
		}
	}
	if l.canTakeUpgrade() {
		for {
			u, ok := l.upgrades.ShiftFront()
			if !ok {
				break
			}
			// Defense in depth: releaseUpgradeable excises every waiter
			// sourced from a released handle before clearing l.upgradeable,
			// so this mismatch should never fire — but granting an upgrade
			// against a handle that is no longer l.upgradeable would hand
			// out an UpgradedHandle nothing can validate, so refuse it.
			if u.source != l.upgradeable {
				u.reg.Unregister()
				l.observeCancelled(roleUpgrade)
				u.fut.Reject(fmt.Errorf("rwlock: source upgradeable handle released before upgrade was granted: %w", ErrLockReleased))
				continue
			}
			l.grantUpgrade(u)
			return
		}
	}
	if l.canTakeUpgradeableRead() {
		if ur, ok := l.upgradeables.ShiftFront(); ok {
			l.grantUpgradeable(ur)
			return
		}
	}
	if l.canTakeRead() {
		for {
			r, ok := l.readers.ShiftFront()
			if !ok {
				break
			}
			l.grantRead(r)
		}
	}
}

func (l *Lock) grantWrite(w *writerWaiter) {
	w.reg.Unregister()
	l.observeDequeued(roleWriter)
	h := l.takeWriteLocked()
	w.fut.Resolve(h)
}

func (l *Lock) grantUpgrade(u *upgradeWaiter) {
	u.reg.Unregister()
	l.observeDequeued(roleUpgrade)
	h := l.takeUpgradeLocked(u.source)
	u.fut.Resolve(h)
}

func (l *Lock) grantUpgradeable(ur *upgradeableWaiter) {
	ur.reg.Unregister()
	l.observeDequeued(roleUpgradeable)
	h := l.takeUpgradeableLocked()
	ur.fut.Resolve(h)
}

func (l *Lock) grantRead(r *readerWaiter) {
	r.reg.Unregister()
	l.observeDequeued(roleReader)
	h := l.takeReadLocked()
	r.fut.Resolve(h)
}

// Stats is a point-in-time snapshot of the lock's internal census, useful
// for tests and the demo CLI's /debug/state endpoint.
type Stats struct {
	Count              int
	HasUpgradeable     bool
	HasUpgraded        bool
	QueuedReaders      int
	QueuedWriters      int
	QueuedUpgradeables int
	QueuedUpgrades     int
}

// Snapshot returns the lock's current Stats.
func (l *Lock) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Count:              l.count,
		HasUpgradeable:     l.upgradeable != nil,
		HasUpgraded:        l.upgraded != nil,
		QueuedReaders:      l.readers.Len(),
		QueuedWriters:      l.writers.Len(),
		QueuedUpgradeables: l.upgradeables.Len(),
		QueuedUpgrades:     l.upgrades.Len(),
	}
}
