package rwlock

import (
	"fmt"

	"github.com/slon/cooplock/cancel"
	"github.com/slon/cooplock/future"
)

// Token names the cancellation-token collaborator this package expects;
// see package cancel for the concrete type.
type Token = cancel.Token

// ReaderHandle is returned by a successful Read. Its only operation is
// Release, which is single-use — a second Release raises
// ErrLockReleased. There is no RAII in Go, so callers are expected to
// `defer h.Release()` immediately after acquiring.
type ReaderHandle struct {
	lock     *Lock
	released bool
}

// Release releases the read lock held by h.
func (h *ReaderHandle) Release() error {
	return h.lock.releaseReader(h)
}

// WriterHandle is returned by a successful Write. Promoting an
// UpgradeableHandle to a plain writer role is not possible — upgrade
// always yields an UpgradedHandle, never a WriterHandle.
type WriterHandle struct {
	lock     *Lock
	released bool
}

// Release releases the write lock held by h.
func (h *WriterHandle) Release() error {
	return h.lock.releaseWriter(h)
}

// UpgradeableHandle is returned by a successful UpgradeableRead. Besides
// Release it exposes Upgrade, the atomic promotion to an exclusive
// writer.
type UpgradeableHandle struct {
	lock     *Lock
	released bool
}

// Release releases the upgradeable-reader role held by h. It fails with
// ErrLockReleased if h is no longer the lock's current upgradeable
// holder, or if h's upgrade is still held (callers must release the
// UpgradedHandle first).
func (h *UpgradeableHandle) Release() error {
	return h.lock.releaseUpgradeable(h)
}

// Upgrade requests promotion of h from upgradeable reader to exclusive
// writer, admitted only once h is the sole remaining holder. It returns
// a Future that resolves to an UpgradedHandle once promoted, or rejects
// if token fires first.
func (h *UpgradeableHandle) Upgrade(token Token) *future.Future[*UpgradedHandle] {
	return h.lock.upgrade(h, token)
}

// UpgradedHandle is returned once an UpgradeableHandle's Upgrade
// succeeds. Releasing it restores the upgradeable-reader role rather
// than fully unlocking — the source UpgradeableHandle remains live and
// may itself still be released or upgraded again.
type UpgradedHandle struct {
	lock     *Lock
	source   *UpgradeableHandle
	released bool
}

// Release relinquishes the exclusive writer role gained via Upgrade,
// restoring h's source UpgradeableHandle to plain upgradeable-reader
// status.
func (h *UpgradedHandle) Release() error {
	return h.lock.releaseUpgraded(h)
}

func errAlreadyReleased(role string) error {
	return fmt.Errorf("rwlock: %s handle already released: %w", role, ErrLockReleased)
}
