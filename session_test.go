// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/channel"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// authenticated returns a new session that has completed a handshake with
// the given passcode.
func authenticated(t *testing.T, passcode string) *rdb.Session {
	t.Helper()
	pass := rdb.NewPasscode(passcode)
	defer pass.Destroy()

	var buf bytes.Buffer
	if err := rdb.ClientHandshake(&buf, passcode); err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
	s := rdb.NewSession("test")
	if err := s.Authenticate(&buf, pass); err != nil {
		t.Fatalf("Authenticate: unexpected error: %v", err)
	}
	if !s.Authenticated || s.Version != rdb.Version {
		t.Fatalf("Session: authenticated=%v version=%d", s.Authenticated, s.Version)
	}
	return s
}

// startSession runs s on one end of a direct channel, and returns the other
// end with a function that waits for the session to finish.
func startSession(s *rdb.Session) (rdb.Channel, func() error) {
	sc, cc := channel.Direct()
	d := rdb.NewDispatcher(testProvider())
	run := taskgroup.Go(func() error {
		return s.Serve(context.Background(), sc, d)
	})
	return cc, run.Wait
}

func roundTrip(t *testing.T, ch rdb.Channel, req ...any) []any {
	t.Helper()
	if err := ch.Send(rdb.MustEncode(req...)); err != nil {
		t.Fatalf("Send %v: %v", req, err)
	}
	rsp, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	vs, err := rsp.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	return vs
}

func TestSessionAuthenticate(t *testing.T) {
	pass := rdb.NewPasscode("right")
	defer pass.Destroy()

	var buf bytes.Buffer
	rdb.ClientHandshake(&buf, "wrong")

	before := metric("auth_failed")
	s := rdb.NewSession("test")
	defer s.End()
	if err := s.Authenticate(&buf, pass); !errors.Is(err, rdb.ErrAuth) {
		t.Errorf("Authenticate: got %v, want %v", err, rdb.ErrAuth)
	}
	if s.Authenticated {
		t.Error("Session is authenticated after a failed handshake")
	}
	if got := metric("auth_failed"); got != before+1 {
		t.Errorf("auth_failed: got %d, want %d", got, before+1)
	}

	// An unauthenticated session does not serve requests.
	sc, cc := channel.Direct()
	defer cc.Close()
	err := s.Serve(context.Background(), sc, rdb.NewDispatcher(testProvider()))
	if !errors.Is(err, rdb.ErrAuth) {
		t.Errorf("Serve: got %v, want %v", err, rdb.ErrAuth)
	}
	if _, err := cc.Recv(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Recv after Serve: got %v, want %v", err, net.ErrClosed)
	}
}

func TestSessionServe(t *testing.T) {
	defer leaktest.Check(t)()

	active := metric("sessions_active")
	s := authenticated(t, "sesame")
	var logged []rdb.FrameInfo
	s.LogFrames(func(fi rdb.FrameInfo) { logged = append(logged, fi) })

	cc, wait := startSession(s)
	if got := roundTrip(t, cc, "get_thread_list"); len(got) != 1 {
		t.Errorf("ListThreads: got %v, want one value", got)
	}
	if diff := cmp.Diff([]any{nil}, roundTrip(t, cc, "execute", "y = 2", 17)); diff != "" {
		t.Errorf("Evaluate (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{[]any{}}, roundTrip(t, cc, "get_locals", 23)); diff != "" {
		t.Errorf("Locals (-want, +got):\n%s", diff)
	}

	// Closing the channel between requests is an orderly end.
	cc.Close()
	if err := wait(); err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	if got := s.Requests(); got != 3 {
		t.Errorf("Requests: got %d, want 3", got)
	}

	var dirs []bool
	for _, fi := range logged {
		dirs = append(dirs, fi.Sent)
	}
	if diff := cmp.Diff([]bool{false, true, false, true, false, true}, dirs); diff != "" {
		t.Errorf("Logged frames (-want, +got):\n%s", diff)
	}

	if got := metric("sessions_active"); got != active+1 {
		t.Errorf("sessions_active: got %d, want %d", got, active+1)
	}
	s.End()
	s.End() // idempotent
	if got := metric("sessions_active"); got != active {
		t.Errorf("sessions_active after End: got %d, want %d", got, active)
	}
}

func TestSessionFailure(t *testing.T) {
	tests := []struct {
		name string
		req  *rdb.Frame
		want error
	}{
		{"UnknownThread", rdb.MustEncode("get_stack", 99), rdb.ErrLookup},
		{"UnknownCommand", rdb.MustEncode("get_frame", 17), rdb.ErrDispatch},
		{"BadPayload", &rdb.Frame{Payload: []byte("\xff")}, rdb.ErrFraming},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer leaktest.Check(t)()

			s := authenticated(t, "sesame")
			defer s.End()
			cc, wait := startSession(s)
			defer cc.Close()

			// A good request first, so the failure is not the first exchange.
			roundTrip(t, cc, "get_thread_list")

			if err := cc.Send(tc.req); err != nil {
				t.Fatalf("Send: %v", err)
			}
			// The failure is not reported to the client: the channel closes.
			if rsp, err := cc.Recv(); err == nil {
				t.Errorf("Recv: got %v, want error", rsp)
			}
			if err := wait(); !errors.Is(err, tc.want) {
				t.Errorf("Serve: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSessionCancel(t *testing.T) {
	defer leaktest.Check(t)()

	s := authenticated(t, "sesame")
	defer s.End()

	sconn, cconn := net.Pipe()
	defer cconn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	run := taskgroup.Go(func() error {
		return s.Serve(ctx, channel.IO(sconn, sconn), rdb.NewDispatcher(testProvider()))
	})

	cc := channel.IO(cconn, cconn)
	roundTrip(t, cc, "get_globals", 17)

	cancel()
	if err := run.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve: got %v, want %v", err, context.Canceled)
	}
}
