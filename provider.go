// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"context"
	"fmt"
)

// ThreadID identifies a live thread of the inspected process. It is stable
// only while the thread keeps running. The zero value names no thread.
type ThreadID uint64

// A Binding is one named variable and the string rendering of its value.
// On the wire a binding is a two-element array (name, value).
type Binding struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value string
}

// String returns the binding in "name = value" form.
func (b Binding) String() string { return fmt.Sprintf("%s = %s", b.Name, b.Value) }

// A FrameSnapshot is a best-effort view of the current execution context of
// one thread. It is not atomic: the provider may race with the thread while
// assembling it.
type FrameSnapshot struct {
	Stack   []string  // stack trace lines, outermost call first
	Locals  []Binding // bindings local to the thread
	Globals []Binding // bindings visible to every thread
}

// A Provider supplies the live execution state of the host process. The
// methods of a Provider must be safe for concurrent use, although a Server
// calls them from only one session at a time.
type Provider interface {
	// ListThreads reports the identifiers of all threads that have begun
	// running. Threads that exist but have not yet started are excluded.
	ListThreads(context.Context) ([]ThreadID, error)

	// Snapshot captures the execution context of thread id. If id does not
	// name a live thread, Snapshot reports a LookupError.
	Snapshot(ctx context.Context, id ThreadID) (*FrameSnapshot, error)

	// Evaluate arranges for code to be executed in the context of thread id
	// and returns without waiting for it. If id does not name a live thread,
	// Evaluate reports a LookupError.
	//
	// Code run this way has the full privileges of the host process.
	Evaluate(ctx context.Context, code string, id ThreadID) error
}
