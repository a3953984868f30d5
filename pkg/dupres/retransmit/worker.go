// Package retransmit is a reference implementation of the
// request-retransmit timer thread the core explicitly treats as an
// external collaborator (spec "Out of scope"): it drives
// Originator.Resend on an interval and calls Originator.TimeoutCB /
// Abandon once a request's deadline, or retry budget, is exceeded. The
// core never imports this package; it only exposes the hooks this
// package calls.
package retransmit

import (
	"context"
	"sync"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/core"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

// Originator is the subset of *core.Originator the worker drives.
type Originator interface {
	Resend(ctx context.Context, key types.RecordKey, probeReq *wire.ProbeRequest)
	TimeoutCB(key types.RecordKey)
	Abandon(key types.RecordKey)
}

var _ Originator = (*core.Originator)(nil)

// tracked is one request the worker is still retrying.
type tracked struct {
	probeReq *wire.ProbeRequest
	deadline time.Time
	retries  int
}

// Worker periodically resends outstanding probes and enforces each
// request's deadline and retry budget.
type Worker struct {
	origin Originator
	log    types.Logger

	interval   time.Duration
	maxRetries int

	mu       sync.Mutex
	tracking map[types.RecordKey]*tracked

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker builds a retransmit worker that resends every interval and
// gives up on a request after maxRetries resends or once its deadline
// passes, whichever comes first.
func NewWorker(origin Originator, log types.Logger, interval time.Duration, maxRetries int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		origin:     origin,
		log:        log,
		interval:   interval,
		maxRetries: maxRetries,
		tracking:   make(map[types.RecordKey]*tracked),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Track registers key for retransmission: probeReq is resent every
// interval until deadline passes or maxRetries resends have been
// attempted, whichever comes first.
func (w *Worker) Track(key types.RecordKey, probeReq *wire.ProbeRequest, deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracking[key] = &tracked{probeReq: probeReq, deadline: deadline}
}

// Untrack stops the worker from retrying key, without touching the
// originator's table — used when the caller already knows the
// resolution finished (e.g. its dup_res_cb already fired).
func (w *Worker) Untrack(key types.RecordKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tracking, key)
}

// Run drives the retransmit loop until Stop is called. It is meant to
// be started once, in its own goroutine, by the caller wiring up a
// node (the core never spawns this itself — it is the external
// collaborator the spec describes).
func (w *Worker) Run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			w.tick(now)
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

func (w *Worker) tick(now time.Time) {
	timedOut, abandoned, pending := w.sweep(now)

	for _, key := range timedOut {
		w.origin.TimeoutCB(key)
		w.log.Warnf("retransmit: request %s exceeded its deadline", key)
	}

	for _, key := range abandoned {
		w.origin.Abandon(key)
		w.log.Warnf("retransmit: request %s exhausted its retry budget, abandoning", key)
	}

	for key, probeReq := range pending {
		w.origin.Resend(w.ctx, key, probeReq)
	}
}

// sweep partitions tracked requests into three groups and removes the
// first two from tracking: timedOut (deadline passed — TimeoutCB only
// detaches the origin, so a straggling ack can still improve local
// storage and the request's table entry is released by whichever path
// finishes the resolution), abandoned (retry budget exhausted with the
// deadline still in the future — nothing is ever going to finish this
// resolution, so Abandon force-removes it from the table instead of
// leaving it inflight forever), and pending (still eligible for another
// resend).
func (w *Worker) sweep(now time.Time) (timedOut, abandoned []types.RecordKey, pending map[types.RecordKey]*wire.ProbeRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending = make(map[types.RecordKey]*wire.ProbeRequest)
	for key, t := range w.tracking {
		switch {
		case now.After(t.deadline):
			timedOut = append(timedOut, key)
			delete(w.tracking, key)
		case t.retries >= w.maxRetries:
			abandoned = append(abandoned, key)
			delete(w.tracking, key)
		default:
			t.retries++
			pending[key] = t.probeReq
		}
	}
	return timedOut, abandoned, pending
}
