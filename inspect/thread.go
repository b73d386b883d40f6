// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package inspect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/creachadair/rdb"
)

// A Thread is a goroutine open to inspection. Construct one with the
// NewThread method of a Registry.
type Thread struct {
	reg     *Registry
	name    string
	fn      func(*Thread)
	eval    Evaluator
	mail    chan string
	done    chan struct{}
	started atomic.Bool
	locals  Bindings

	id rdb.ThreadID // set by Start
}

// Name returns the name given to t when it was constructed.
func (t *Thread) Name() string { return t.name }

// ID returns the identifier of t, or 0 if t has not been started.
func (t *Thread) ID() rdb.ThreadID { return t.id }

// Locals returns the local bindings of t.
func (t *Thread) Locals() *Bindings { return &t.locals }

// Globals returns the global bindings of the registry that owns t.
func (t *Thread) Globals() *Bindings { return t.reg.Globals() }

// Done returns a channel that is closed when the function of t has
// returned and t is no longer listed.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Start starts the goroutine for t, and returns once t is listed by its
// registry. Start panics if t has already been started.
func (t *Thread) Start() {
	if !t.started.CompareAndSwap(false, true) {
		panic("thread already started")
	}
	ready := make(chan struct{})
	go func() {
		defer close(t.done)
		t.id = rdb.ThreadID(currentGoroutineID())
		t.reg.add(t)
		defer t.reg.remove(t)
		close(ready)

		t.fn(t)
	}()
	<-ready
}

// Poll runs any evaluation requests queued for t, and reports how many were
// run. It does not wait for requests to arrive. Poll must only be called
// from the goroutine of t.
func (t *Thread) Poll() int {
	var n int
	for {
		select {
		case code := <-t.mail:
			t.run(code)
			n++
		default:
			return n
		}
	}
}

// Sleep waits for d to elapse or ctx to end, running evaluation requests
// for t as they arrive. It reports nil if d elapsed, or ctx.Err() if ctx
// ended first. Sleep must only be called from the goroutine of t.
func (t *Thread) Sleep(ctx context.Context, d time.Duration) error {
	tm := time.NewTimer(d)
	defer tm.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tm.C:
			return nil
		case code := <-t.mail:
			t.run(code)
		}
	}
}

func (t *Thread) post(code string) error {
	select {
	case t.mail <- code:
		return nil
	default:
		return ErrBusy
	}
}

func (t *Thread) run(code string) {
	if err := t.eval.Eval(t, code); err != nil {
		t.reg.log.Warn("evaluation failed", "thread", t.id, "name", t.name, "err", err)
	}
}
