// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// A Channel is a reliable ordered stream of frames shared by a client and a
// server. After the handshake, every exchange on a channel is one request
// frame followed by one response frame.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the frame in binary format to the receiver.
	Send(*Frame) error

	// Receive the next available frame from the channel.
	Recv() (*Frame, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A FrameLogger logs a frame exchanged with the remote client.
type FrameLogger func(FrameInfo)

// A FrameInfo combines a frame and a flag indicating whether the frame was
// sent or received.
type FrameInfo struct {
	*Frame      // the frame being logged
	Sent   bool // whether the frame was sent (true) or received (false)
}

func (f FrameInfo) dir() string {
	if f.Sent {
		return "send"
	}
	return "recv"
}

func (f FrameInfo) String() string { return fmt.Sprintf("%v %v", f.dir(), f.Frame) }

var sessionSeq atomic.Uint64

// A Session is the server-side state of one accepted connection. A session
// is created when a connection is accepted, becomes authenticated after a
// successful handshake, and ends at the first failure or when the client
// closes the connection. Sessions are not reused.
type Session struct {
	ID            uint64    // process-unique session number
	Remote        string    // remote address of the client, if known
	Started       time.Time // when the connection was accepted
	Authenticated bool      // whether the handshake succeeded
	Version       uint64    // protocol version presented by the client

	plog FrameLogger
	reqs int
	done atomic.Bool
}

// NewSession constructs an unauthenticated session for a connection from
// the given remote address.
func NewSession(remote string) *Session {
	rdbMetrics.sessionsAccepted.Add(1)
	rdbMetrics.sessionsActive.Add(1)
	return &Session{
		ID:      sessionSeq.Add(1),
		Remote:  remote,
		Started: time.Now(),
	}
}

// End marks the session as finished. It is safe to call more than once.
func (s *Session) End() {
	if s.done.CompareAndSwap(false, true) {
		rdbMetrics.sessionsActive.Add(-1)
	}
}

// LogFrames registers a callback that will be invoked for each frame
// exchanged during the session. Passing nil disables frame logging. It
// returns s to permit chaining.
func (s *Session) LogFrames(log FrameLogger) *Session { s.plog = log; return s }

// Requests reports the number of requests the session has served.
func (s *Session) Requests() int { return s.reqs }

// Authenticate runs the server side of the handshake on r. On success the
// session is marked authenticated; on failure the caller must close the
// connection without writing anything to it.
func (s *Session) Authenticate(r io.Reader, pass *Passcode) error {
	v, err := ServerHandshake(r, pass)
	s.Version = v
	if err != nil {
		if KindOf(err) == KindAuth {
			rdbMetrics.authFailed.Add(1)
		}
		return err
	}
	s.Authenticated = true
	return nil
}

// Serve runs the request/response cycle of an authenticated session on ch,
// until the client closes the channel, ctx ends, or an error occurs.  It
// closes ch before returning.
//
// Serve reports nil if the client closed the channel between requests;
// otherwise it reports the error that ended the session. No error is ever
// reported to the client: the only visible effect of a failure is that the
// channel is closed.
func (s *Session) Serve(ctx context.Context, ch Channel, d *Dispatcher) error {
	defer ch.Close()
	if !s.Authenticated {
		return newError(KindAuth, "session %d is not authenticated", s.ID)
	}
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	for {
		req, err := ch.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			} else if isOrderlyClose(err) {
				return nil
			}
			return err
		}
		rdbMetrics.framesRecv.Add(1)
		if s.plog != nil {
			s.plog(FrameInfo{Frame: req})
		}

		rsp, err := d.Handle(ctx, req)
		if err != nil {
			return err
		}
		s.reqs++

		if s.plog != nil {
			s.plog(FrameInfo{Frame: rsp, Sent: true})
		}
		if err := ch.Send(rsp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		rdbMetrics.framesSent.Add(1)
	}
}

// isOrderlyClose reports whether err means the peer closed the stream
// cleanly between frames.
func isOrderlyClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
