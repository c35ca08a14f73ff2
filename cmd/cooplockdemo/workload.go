package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/slon/cooplock/asyncqueue"
	"github.com/slon/cooplock/rwlock"
)

// Pacer turns a clockwork.Clock into a cancellable sleep, so the rate at
// which workload goroutines act can be driven by a fake clock in tests
// instead of wall time.
type Pacer struct {
	Clock    clockwork.Clock
	Interval time.Duration
}

// Wait blocks for Interval, or returns ctx.Err() if ctx is done first.
func (p Pacer) Wait(ctx context.Context) error {
	timer := p.Clock.NewTimer(p.Interval)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workload drives a configurable population of goroutines against one
// rwlock.Lock and one asyncqueue.Queue[int], purely to give the demo
// server something to report through its debug endpoints.
type Workload struct {
	Lock  *rwlock.Lock
	Queue *asyncqueue.Queue[int]

	Readers       int
	Writers       int
	Upgradeables  int
	Producers     int
	Consumers     int
	HoldDuration  time.Duration
	PacePerAction time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Run launches every configured goroutine and blocks until ctx is done.
func (w *Workload) Run(ctx context.Context) {
	pacer := Pacer{Clock: w.Clock, Interval: w.PacePerAction}
	holder := Pacer{Clock: w.Clock, Interval: w.HoldDuration}

	for i := 0; i < w.Readers; i++ {
		go w.runReader(ctx, pacer, holder, i)
	}
	for i := 0; i < w.Writers; i++ {
		go w.runWriter(ctx, pacer, holder, i)
	}
	for i := 0; i < w.Upgradeables; i++ {
		go w.runUpgradeable(ctx, pacer, holder, i)
	}
	for i := 0; i < w.Producers; i++ {
		go w.runProducer(ctx, pacer, i)
	}
	for i := 0; i < w.Consumers; i++ {
		go w.runConsumer(ctx, pacer, i)
	}

	<-ctx.Done()
}

func (w *Workload) runReader(ctx context.Context, pacer, holder Pacer, id int) {
	for ctx.Err() == nil {
		h, err := w.Lock.ReadContext(ctx).Await(ctx)
		if err != nil {
			return
		}
		holder.Wait(ctx)
		if err := h.Release(); err != nil {
			w.Logger.Error("reader release failed", "id", id, "error", err)
		}
		if pacer.Wait(ctx) != nil {
			return
		}
	}
}

func (w *Workload) runWriter(ctx context.Context, pacer, holder Pacer, id int) {
	for ctx.Err() == nil {
		h, err := w.Lock.WriteContext(ctx).Await(ctx)
		if err != nil {
			return
		}
		holder.Wait(ctx)
		if err := h.Release(); err != nil {
			w.Logger.Error("writer release failed", "id", id, "error", err)
		}
		if pacer.Wait(ctx) != nil {
			return
		}
	}
}

func (w *Workload) runUpgradeable(ctx context.Context, pacer, holder Pacer, id int) {
	for ctx.Err() == nil {
		h, err := w.Lock.UpgradeableReadContext(ctx).Await(ctx)
		if err != nil {
			return
		}
		holder.Wait(ctx)

		uh, err := h.Upgrade(nil).Await(ctx)
		if err == nil {
			holder.Wait(ctx)
			if err := uh.Release(); err != nil {
				w.Logger.Error("upgraded release failed", "id", id, "error", err)
			}
		}
		if err := h.Release(); err != nil {
			w.Logger.Error("upgradeable release failed", "id", id, "error", err)
		}
		if pacer.Wait(ctx) != nil {
			return
		}
	}
}

func (w *Workload) runProducer(ctx context.Context, pacer Pacer, id int) {
	n := 0
	for ctx.Err() == nil {
		w.Queue.Put(id*1_000_000 + n)
		n++
		if pacer.Wait(ctx) != nil {
			return
		}
	}
}

func (w *Workload) runConsumer(ctx context.Context, pacer Pacer, id int) {
	for ctx.Err() == nil {
		_, err := w.Queue.GetContext(ctx).Await(ctx)
		if err != nil {
			return
		}
		if pacer.Wait(ctx) != nil {
			return
		}
	}
}
