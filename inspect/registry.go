// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package inspect implements an rdb.Provider over goroutines that opt in to
// inspection.
//
// A goroutine is tracked by starting it through a Registry:
//
//	reg := inspect.NewRegistry(nil)
//	t := reg.NewThread("worker", func(t *inspect.Thread) {
//	   for {
//	      t.Locals().Set("count", n)
//	      if err := t.Sleep(ctx, time.Second); err != nil {
//	         return
//	      }
//	   }
//	})
//	t.Start()
//
// A thread is listed from the time Start is called until its function
// returns. Its identifier is the runtime ID of its goroutine.
//
// Each thread publishes its own local bindings, and the registry holds
// global bindings shared by all threads. Stack traces are captured from the
// runtime on demand.
//
// Code sent for evaluation is queued to the target thread, and runs on that
// thread's goroutine the next time it calls Poll or Sleep. A thread that
// never calls either will never run evaluation requests.
package inspect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/rdb"
)

// ErrBusy is reported by Evaluate when the mailbox of the target thread is
// full.
var ErrBusy = errors.New("thread mailbox is full")

// DefaultMailboxSize is the number of evaluation requests a thread can hold
// before Evaluate reports ErrBusy, if Options.MailboxSize is not set.
const DefaultMailboxSize = 16

// Options control the behaviour of a Registry. A nil *Options provides
// default values as described.
type Options struct {
	// NewEvaluator returns the evaluator for a new thread. Each thread gets
	// its own. If nil, each thread uses an AssignEvaluator.
	NewEvaluator func() Evaluator

	// MailboxSize is the capacity of each thread's evaluation mailbox.
	// If zero, DefaultMailboxSize is used.
	MailboxSize int

	// Logger receives evaluation failures. If nil, nothing is logged.
	Logger *slog.Logger
}

func (o *Options) newEvaluator() Evaluator {
	if o == nil || o.NewEvaluator == nil {
		return AssignEvaluator{}
	}
	return o.NewEvaluator()
}

func (o *Options) mailboxSize() int {
	if o == nil || o.MailboxSize <= 0 {
		return DefaultMailboxSize
	}
	return o.MailboxSize
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// A Registry tracks the threads of a process that are open to inspection.
// It implements the rdb.Provider interface. A Registry is safe for
// concurrent use.
type Registry struct {
	opts    *Options
	log     *slog.Logger
	globals Bindings

	μ       sync.Mutex
	threads map[rdb.ThreadID]*Thread
}

// NewRegistry constructs an empty registry with the given options.
func NewRegistry(opts *Options) *Registry {
	return &Registry{
		opts:    opts,
		log:     opts.logger(),
		threads: make(map[rdb.ThreadID]*Thread),
	}
}

// Globals returns the global bindings of r, which are visible to every
// thread.
func (r *Registry) Globals() *Bindings { return &r.globals }

// NewThread constructs a thread that will run fn when started. The thread
// is not listed until its Start method is called.
func (r *Registry) NewThread(name string, fn func(*Thread)) *Thread {
	if fn == nil {
		panic("nil thread function")
	}
	return &Thread{
		reg:  r,
		name: name,
		fn:   fn,
		eval: r.opts.newEvaluator(),
		mail: make(chan string, r.opts.mailboxSize()),
		done: make(chan struct{}),
	}
}

// Go constructs and starts a thread that runs fn, and returns the started
// thread.
func (r *Registry) Go(name string, fn func(*Thread)) *Thread {
	t := r.NewThread(name, fn)
	t.Start()
	return t
}

// Thread returns the running thread with the given ID, if there is one.
func (r *Registry) Thread(id rdb.ThreadID) (*Thread, bool) {
	r.μ.Lock()
	defer r.μ.Unlock()
	t, ok := r.threads[id]
	return t, ok
}

// Threads returns the running threads of r, ordered by ID.
func (r *Registry) Threads() []*Thread {
	r.μ.Lock()
	defer r.μ.Unlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, id := range slices.Sorted(maps.Keys(r.threads)) {
		out = append(out, r.threads[id])
	}
	return out
}

func (r *Registry) add(t *Thread) {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.threads[t.id] = t
}

func (r *Registry) remove(t *Thread) {
	r.μ.Lock()
	defer r.μ.Unlock()
	delete(r.threads, t.id)
}

func (r *Registry) lookup(id rdb.ThreadID) (*Thread, error) {
	if t, ok := r.Thread(id); ok {
		return t, nil
	}
	return nil, rdb.LookupErrorf("no thread with id %d", id)
}

// ListThreads implements a method of the [rdb.Provider] interface.
// The IDs are reported in increasing order.
func (r *Registry) ListThreads(context.Context) ([]rdb.ThreadID, error) {
	r.μ.Lock()
	defer r.μ.Unlock()
	return slices.Sorted(maps.Keys(r.threads)), nil
}

// Snapshot implements a method of the [rdb.Provider] interface.
func (r *Registry) Snapshot(_ context.Context, id rdb.ThreadID) (*rdb.FrameSnapshot, error) {
	t, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	gs, err := parseStacks(dumpStacks(true))
	if err != nil {
		return nil, err
	}
	g, ok := gs[int(id)]
	if !ok {
		// The thread exited after the lookup.
		return nil, rdb.LookupErrorf("thread %d is no longer running", id)
	}
	return &rdb.FrameSnapshot{
		Stack:   formatStack(g),
		Locals:  t.locals.List(),
		Globals: r.globals.List(),
	}, nil
}

// Evaluate implements a method of the [rdb.Provider] interface. It queues
// code to the mailbox of the specified thread. If the mailbox is full, it
// reports ErrBusy.
func (r *Registry) Evaluate(_ context.Context, code string, id rdb.ThreadID) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	return t.post(code)
}
