// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"

	"github.com/maruel/panicparse/v2/stack"
)

// dumpStacks returns the runtime.Stack output for the current goroutine, or
// for all goroutines if all is true.
func dumpStacks(all bool) []byte {
	buf := make([]byte, 16<<10)
	for {
		n := runtime.Stack(buf, all)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseStacks parses a goroutine dump into its goroutines, keyed by ID.
func parseStacks(dump []byte) (map[int]*stack.Goroutine, error) {
	opts := stack.DefaultOpts()
	opts.GuessPaths = false
	opts.AnalyzeSources = false

	snap, _, err := stack.ScanSnapshot(bytes.NewReader(dump), io.Discard, opts)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse goroutine dump: %w", err)
	} else if snap == nil {
		return nil, errors.New("parse goroutine dump: no goroutines found")
	}
	out := make(map[int]*stack.Goroutine, len(snap.Goroutines))
	for _, g := range snap.Goroutines {
		out[g.ID] = g
	}
	return out, nil
}

// currentGoroutineID reports the ID of the calling goroutine.
func currentGoroutineID() int {
	gs, err := parseStacks(dumpStacks(false))
	if err != nil {
		panic(err)
	}
	for id := range gs {
		return id
	}
	panic("no current goroutine")
}

// formatStack renders the calls of g one per line, outermost call first.
func formatStack(g *stack.Goroutine) []string {
	calls := g.Stack.Calls
	out := make([]string, 0, len(calls)+1)
	if g.Stack.Elided {
		out = append(out, "  ...additional frames elided...")
	}
	for _, c := range slices.Backward(calls) {
		out = append(out, fmt.Sprintf("  File %q, line %d, in %s", c.RemoteSrcPath, c.Line, c.Func.Complete))
	}
	return out
}
