// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package client_test

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/client"
	"github.com/creachadair/rdb/inspect"
	"github.com/creachadair/rdb/listener"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// startServer runs a listener loop for reg on a loopback port with the
// given passcode, and returns its address and a function to stop it.
func startServer(t *testing.T, reg *inspect.Registry, passcode string) (string, func()) {
	t.Helper()
	lst, err := listener.Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	pass := rdb.NewPasscode(passcode)
	ctx, cancel := context.WithCancel(context.Background())
	loop := taskgroup.Go(func() error {
		return listener.Loop(ctx, listener.NetAccepter(lst), listener.Options{
			Provider: reg,
			Passcode: pass,
		})
	})
	return lst.Addr().String(), func() {
		cancel()
		loop.Wait()
		lst.Close()
		pass.Destroy()
	}
}

// idleThread returns a thread function that serves evaluation requests
// until ctx ends.
func idleThread(ctx context.Context) func(*inspect.Thread) {
	return func(t *inspect.Thread) { t.Sleep(ctx, time.Hour) }
}

func TestEndToEnd(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(t.Context())
	reg := inspect.NewRegistry(nil)
	reg.Globals().Set("mode", "test")

	a := reg.Go("a", idleThread(ctx))
	b := reg.Go("b", idleThread(ctx))
	idle := reg.NewThread("never", idleThread(ctx)) // not started
	defer func() { cancel(); <-a.Done(); <-b.Done() }()

	addr, stop := startServer(t, reg, "secret")
	defer stop()

	c, err := client.Dial(ctx, addr, client.Options{Passcode: "secret", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ids, err := c.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	want := []rdb.ThreadID{a.ID(), b.ID()}
	slices.Sort(want)
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ListThreads (-want, +got):\n%s", diff)
	}
	if slices.Contains(ids, idle.ID()) {
		t.Errorf("ListThreads includes unstarted thread: %v", ids)
	}

	stack, err := c.Stack(ctx, a.ID())
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if !slices.ContainsFunc(stack, func(s string) bool { return strings.Contains(s, "client_test.") }) {
		t.Errorf("Stack does not include the thread function:\n%s", strings.Join(stack, "\n"))
	}

	globals, err := c.Globals(ctx, b.ID())
	if err != nil {
		t.Fatalf("Globals: %v", err)
	}
	opt := cmpopts.IgnoreUnexported(rdb.Binding{})
	if diff := cmp.Diff([]rdb.Binding{{Name: "mode", Value: `"test"`}}, globals, opt); diff != "" {
		t.Errorf("Globals (-want, +got):\n%s", diff)
	}

	// Evaluation runs later, on the goroutine of the thread.
	if err := c.Evaluate(ctx, a.ID(), "x = 5"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		locals, err := c.Locals(ctx, a.ID())
		if err != nil {
			t.Fatalf("Locals: %v", err)
		}
		if len(locals) != 0 {
			if diff := cmp.Diff([]rdb.Binding{{Name: "x", Value: "5"}}, locals, opt); diff != "" {
				t.Errorf("Locals (-want, +got):\n%s", diff)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for evaluation")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if locals, err := c.Locals(ctx, b.ID()); err != nil || len(locals) != 0 {
		t.Errorf("Locals of b: got (%v, %v), want empty", locals, err)
	}

	// A lookup failure ends the session, and the client stays failed.
	if _, err := c.Stack(ctx, 1<<60); err == nil {
		t.Error("Stack of unknown thread: got nil, want error")
	}
	if _, err := c.ListThreads(ctx); err == nil {
		t.Error("ListThreads after failure: got nil, want error")
	}
}

func TestWrongPasscode(t *testing.T) {
	defer leaktest.Check(t)()

	reg := inspect.NewRegistry(nil)
	addr, stop := startServer(t, reg, "secret")
	defer stop()
	ctx := t.Context()

	// The handshake has no reply, so the failure appears on the first call.
	c, err := client.Dial(ctx, addr, client.Options{Passcode: "guess", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if ids, err := c.ListThreads(ctx); err == nil {
		t.Errorf("ListThreads: got %v, want error", ids)
	}
	c.Close()

	// The server continues to serve other clients.
	c, err = client.Dial(ctx, addr, client.Options{Passcode: "secret", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if _, err := c.ListThreads(ctx); err != nil {
		t.Errorf("ListThreads: unexpected error: %v", err)
	}
}

func TestTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	// The server reads everything and never replies.
	sconn, cconn := net.Pipe()
	drain := taskgroup.Go(func() error {
		_, err := io.Copy(io.Discard, sconn)
		return err
	})
	defer func() { sconn.Close(); drain.Wait() }()

	c, err := client.New(cconn, client.Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var frames []rdb.FrameInfo
	c.LogFrames(func(fi rdb.FrameInfo) { frames = append(frames, fi) })

	if _, err := c.ListThreads(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ListThreads: got %v, want %v", err, context.DeadlineExceeded)
	}
	if len(frames) != 1 || !frames[0].Sent {
		t.Errorf("Logged frames: got %v, want one sent frame", frames)
	}

	// After a failure, the client reports the same failure without another
	// exchange.
	if _, err := c.Globals(context.Background(), 1); err == nil {
		t.Error("Globals after failure: got nil, want error")
	}
	if len(frames) != 1 {
		t.Errorf("Logged frames after failure: got %d, want 1", len(frames))
	}
}

func TestCancel(t *testing.T) {
	defer leaktest.Check(t)()

	sconn, cconn := net.Pipe()
	drain := taskgroup.Go(func() error {
		_, err := io.Copy(io.Discard, sconn)
		return err
	})
	defer func() { sconn.Close(); drain.Wait() }()

	c, err := client.New(cconn, client.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	if err := c.Evaluate(ctx, 1, "x = 1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate: got %v, want %v", err, context.Canceled)
	}
}
