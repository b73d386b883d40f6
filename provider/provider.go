// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package provider provides adapters to the rdb.Provider interface for plain
// functions and fixed data.
//
// These are mainly useful for tests and for serving state that is not held
// by an inspect.Registry.
package provider

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/rdb"
)

// Funcs adapts a set of functions to the rdb.Provider interface.
//
// If ListThreads is nil, there are no threads. If Snapshot or Evaluate is
// nil, every thread ID is reported as unknown.
type Funcs struct {
	ListThreadsFunc func(context.Context) ([]rdb.ThreadID, error)
	SnapshotFunc    func(context.Context, rdb.ThreadID) (*rdb.FrameSnapshot, error)
	EvaluateFunc    func(context.Context, string, rdb.ThreadID) error
}

// ListThreads implements a method of the [rdb.Provider] interface.
func (f Funcs) ListThreads(ctx context.Context) ([]rdb.ThreadID, error) {
	if f.ListThreadsFunc == nil {
		return nil, nil
	}
	return f.ListThreadsFunc(ctx)
}

// Snapshot implements a method of the [rdb.Provider] interface.
func (f Funcs) Snapshot(ctx context.Context, id rdb.ThreadID) (*rdb.FrameSnapshot, error) {
	if f.SnapshotFunc == nil {
		return nil, unknownThread(id)
	}
	return f.SnapshotFunc(ctx, id)
}

// Evaluate implements a method of the [rdb.Provider] interface.
func (f Funcs) Evaluate(ctx context.Context, code string, id rdb.ThreadID) error {
	if f.EvaluateFunc == nil {
		return unknownThread(id)
	}
	return f.EvaluateFunc(ctx, code, id)
}

// An Eval records one call to the Evaluate method of a Static provider.
type Eval struct {
	Thread rdb.ThreadID
	Code   string
}

// A Static is an rdb.Provider that serves a fixed set of snapshots.
// Evaluate does not run anything: it records the request for later
// inspection by the caller.
type Static struct {
	snaps map[rdb.ThreadID]*rdb.FrameSnapshot

	μ     sync.Mutex
	evals []Eval
}

// NewStatic constructs a Static provider serving the given snapshots, keyed
// by thread ID. The provider does not copy the map or its values, and the
// caller must not modify them while the provider is in use.
func NewStatic(snaps map[rdb.ThreadID]*rdb.FrameSnapshot) *Static {
	return &Static{snaps: snaps}
}

// ListThreads implements a method of the [rdb.Provider] interface.
// The IDs are reported in increasing order.
func (s *Static) ListThreads(context.Context) ([]rdb.ThreadID, error) {
	return slices.Sorted(maps.Keys(s.snaps)), nil
}

// Snapshot implements a method of the [rdb.Provider] interface.
func (s *Static) Snapshot(_ context.Context, id rdb.ThreadID) (*rdb.FrameSnapshot, error) {
	if snap, ok := s.snaps[id]; ok {
		return snap, nil
	}
	return nil, unknownThread(id)
}

// Evaluate implements a method of the [rdb.Provider] interface.
func (s *Static) Evaluate(_ context.Context, code string, id rdb.ThreadID) error {
	if _, ok := s.snaps[id]; !ok {
		return unknownThread(id)
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	s.evals = append(s.evals, Eval{Thread: id, Code: code})
	return nil
}

// Evaluated returns a copy of the evaluation requests received by s, in the
// order they arrived.
func (s *Static) Evaluated() []Eval {
	s.μ.Lock()
	defer s.μ.Unlock()
	return slices.Clone(s.evals)
}

func unknownThread(id rdb.ThreadID) error { return rdb.LookupErrorf("no thread with id %d", id) }
