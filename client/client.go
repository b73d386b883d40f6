// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package client implements the calling side of the rdb protocol.
//
// A Client holds one authenticated connection and issues one request at a
// time. Any failure reported by the server shows up as an error from the
// call in progress, after which the client is no longer usable.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/channel"
)

// Options configure a client connection. A zero Options is ready for use
// and presents the default passcode over plain TCP.
type Options struct {
	// Passcode is presented to the server during the handshake. If empty,
	// rdb.DefaultPasscode is used.
	Passcode string

	// TLS, if non-nil, enables TLS on the connection.
	TLS *tls.Config

	// Timeout bounds each call, from sending the request to receiving the
	// response. Zero means no limit beyond the context of the call.
	Timeout time.Duration
}

// A Client is a connection to an rdb server. Its methods are safe for
// concurrent use, but calls are serialized.
type Client struct {
	conn    net.Conn
	ch      rdb.Channel
	timeout time.Duration

	μ    sync.Mutex
	err  error // sticky error, once the channel has failed
	plog rdb.FrameLogger
}

// Dial connects to the server at addr and performs the handshake.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if opts.TLS != nil {
		tcfg := opts.TLS
		if tcfg.ServerName == "" {
			tcfg = tcfg.Clone()
			tcfg.ServerName, _, _ = net.SplitHostPort(addr)
		}
		tc := tls.Client(conn, tcfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}
	c, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New performs the client handshake on conn and returns a client that uses
// it. The client takes ownership of conn.
func New(conn net.Conn, opts Options) (*Client, error) {
	pass := opts.Passcode
	if pass == "" {
		pass = rdb.DefaultPasscode
	}
	if err := rdb.ClientHandshake(conn, pass); err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		ch:      channel.IO(conn, conn),
		timeout: opts.Timeout,
	}, nil
}

// LogFrames registers a callback that will be invoked for each frame
// exchanged with the server. Passing nil disables logging. It returns c to
// permit chaining.
func (c *Client) LogFrames(log rdb.FrameLogger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.plog = log
	return c
}

// Close closes the connection to the server.
func (c *Client) Close() error { return c.ch.Close() }

// Call sends req to the server and returns the response frame.
func (c *Client) Call(ctx context.Context, req rdb.Request) (*rdb.Frame, error) {
	f, err := rdb.Encode(req.Values()...)
	if err != nil {
		return nil, err
	}
	return c.CallFrame(ctx, f)
}

// CallFrame sends an arbitrary request frame to the server and returns the
// response frame. This allows a caller to send messages that Request cannot
// express, such as unknown commands.
func (c *Client) CallFrame(ctx context.Context, f *rdb.Frame) (*rdb.Frame, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.err != nil {
		return nil, c.err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// The connection deadline is set only once ctx is done, so that a failed
	// exchange can be attributed to ctx.
	c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	rsp, err := c.exchange(f)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		c.err = fmt.Errorf("connection failed: %w", err)
		return nil, err
	}
	return rsp, nil
}

func (c *Client) exchange(f *rdb.Frame) (*rdb.Frame, error) {
	if c.plog != nil {
		c.plog(rdb.FrameInfo{Frame: f, Sent: true})
	}
	if err := c.ch.Send(f); err != nil {
		return nil, err
	}
	rsp, err := c.ch.Recv()
	if err != nil {
		return nil, err
	}
	if c.plog != nil {
		c.plog(rdb.FrameInfo{Frame: rsp})
	}
	return rsp, nil
}

// ListThreads reports the identifiers of the server's running threads.
func (c *Client) ListThreads(ctx context.Context) ([]rdb.ThreadID, error) {
	return call[[]rdb.ThreadID](ctx, c, rdb.Request{Command: rdb.ListThreads})
}

// Stack reports the stack trace of the specified thread, outermost call
// first.
func (c *Client) Stack(ctx context.Context, id rdb.ThreadID) ([]string, error) {
	return call[[]string](ctx, c, rdb.Request{Command: rdb.GetStack, Thread: id})
}

// Locals reports the local bindings of the specified thread.
func (c *Client) Locals(ctx context.Context, id rdb.ThreadID) ([]rdb.Binding, error) {
	return call[[]rdb.Binding](ctx, c, rdb.Request{Command: rdb.GetLocals, Thread: id})
}

// Globals reports the global bindings visible to the specified thread.
func (c *Client) Globals(ctx context.Context, id rdb.ThreadID) ([]rdb.Binding, error) {
	return call[[]rdb.Binding](ctx, c, rdb.Request{Command: rdb.GetGlobals, Thread: id})
}

// Evaluate asks the server to run code in the context of the specified
// thread. It returns once the server has accepted the request; the code runs
// later, when the thread next yields to its evaluator.
func (c *Client) Evaluate(ctx context.Context, id rdb.ThreadID, code string) error {
	_, err := call[any](ctx, c, rdb.Request{Command: rdb.Evaluate, Thread: id, Code: code})
	return err
}

// call issues req and decodes the single result value of the response.
func call[T any](ctx context.Context, c *Client, req rdb.Request) (T, error) {
	var zero T
	rsp, err := c.Call(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("%v: %w", req.Command, err)
	}
	var out []T
	if err := rsp.Decode(&out); err != nil {
		return zero, fmt.Errorf("%v: %w", req.Command, err)
	} else if len(out) != 1 {
		return zero, fmt.Errorf("%v: got %d result values, want 1", req.Command, len(out))
	}
	return out[0], nil
}
