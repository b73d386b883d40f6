// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"context"
	"fmt"
)

// A Handler computes the result of one command against a provider.
type Handler func(context.Context, Provider, *Request) (any, error)

// A Dispatcher maps decoded requests to operations on a Provider.
// A zero Dispatcher is not usable; construct one with NewDispatcher.
type Dispatcher struct {
	p     Provider
	table [numCommands + 1]Handler
}

// NewDispatcher constructs a dispatcher for the standard commands, backed by
// the given provider.
func NewDispatcher(p Provider) *Dispatcher {
	if p == nil {
		panic("nil provider")
	}
	return &Dispatcher{p: p, table: [numCommands + 1]Handler{
		ListThreads: listThreads,
		GetStack:    snapshotField(func(s *FrameSnapshot) any { return nonNil(s.Stack) }),
		GetLocals:   snapshotField(func(s *FrameSnapshot) any { return nonNil(s.Locals) }),
		GetGlobals:  snapshotField(func(s *FrameSnapshot) any { return nonNil(s.Globals) }),
		Evaluate:    evaluate,
	}}
}

// Provider returns the provider used by d.
func (d *Dispatcher) Provider() Provider { return d.p }

// Dispatch executes req and returns its result value. A panic in the
// provider is reported as a DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (_ any, err error) {
	rdbMetrics.commands.Add(1)
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = newError(KindDispatch, "%v panicked (recovered): %v", req.Command, x)
		}
		if err != nil {
			rdbMetrics.commandsFailed.Add(1)
		}
	}()
	if !req.Command.valid() || d.table[req.Command] == nil {
		return nil, newError(KindDispatch, "no handler for %v", req.Command)
	}
	return d.table[req.Command](ctx, d.p, req)
}

// Handle decodes a request frame, dispatches it, and returns the response
// frame holding the single result value.
func (d *Dispatcher) Handle(ctx context.Context, f *Frame) (*Frame, error) {
	req, err := ParseRequest(f)
	if err != nil {
		return nil, err
	}
	v, err := d.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return Encode(v)
}

func listThreads(ctx context.Context, p Provider, _ *Request) (any, error) {
	ids, err := p.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

func snapshotField(get func(*FrameSnapshot) any) Handler {
	return func(ctx context.Context, p Provider, req *Request) (any, error) {
		snap, err := p.Snapshot(ctx, req.Thread)
		if err != nil {
			return nil, err
		} else if snap == nil {
			return nil, LookupErrorf("no snapshot for thread %d", req.Thread)
		}
		return get(snap), nil
	}
}

func evaluate(ctx context.Context, p Provider, req *Request) (any, error) {
	if err := p.Evaluate(ctx, req.Code, req.Thread); err != nil {
		return nil, fmt.Errorf("evaluate in thread %d: %w", req.Thread, err)
	}
	return nil, nil
}

// nonNil returns an empty slice in place of nil, so that an empty result is
// sent as an empty sequence rather than a null.
func nonNil[T any](vs []T) []T {
	if vs == nil {
		return []T{}
	}
	return vs
}
