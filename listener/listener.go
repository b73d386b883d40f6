// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package listener accepts client connections and serves them one session
// at a time.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/channel"
	"github.com/creachadair/taskgroup"
)

// Options control how sessions are served. The Provider field is required.
type Options struct {
	// Provider supplies thread state to the command dispatcher.
	Provider rdb.Provider

	// Passcode is the shared secret clients must present. If nil, the
	// insecure rdb.DefaultPasscode is used.
	Passcode *rdb.Passcode

	// HandshakeTimeout bounds the time a client has to complete the
	// handshake after its connection is accepted. Zero means no limit.
	HandshakeTimeout time.Duration

	// ReadTimeout bounds each request read, including the idle time before
	// a request begins. Zero means no limit.
	ReadTimeout time.Duration

	// WriteTimeout bounds each response write. Zero means no limit.
	WriteTimeout time.Duration

	// Logger receives session lifecycle events. If nil, nothing is logged.
	// Individual frames are logged at debug level.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

var defaultPasscode = sync.OnceValue(func() *rdb.Passcode {
	return rdb.NewPasscode(rdb.DefaultPasscode)
})

func (o Options) passcode() *rdb.Passcode {
	if o.Passcode == nil {
		return defaultPasscode()
	}
	return o.Passcode
}

// An Accepter accepts connections from clients.
type Accepter interface {
	Accept(context.Context) (net.Conn, error)
}

// Loop accepts connections from acc and serves each one to completion
// before accepting another, so that at most one session is active at a time.
// Further clients wait, unaccepted, until the active session ends.
//
// Loop continues until acc closes or ctx ends. A failure within a session
// closes that session's connection and is otherwise only logged; it never
// stops the loop. Loop reports nil when acc is closed, and ctx.Err() when
// ctx ends.
func Loop(ctx context.Context, acc Accepter, opts Options) error {
	if opts.Provider == nil {
		return errors.New("listener: no provider")
	}
	log := opts.logger()
	pass := opts.passcode()
	if pass.IsDefault() {
		log.Warn("serving with the default passcode; set a passcode for any real deployment")
	}
	d := rdb.NewDispatcher(opts.Provider)
	for {
		log.Debug("waiting for a connection")
		conn, err := acc.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			} else if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		serveConn(ctx, conn, d, pass, opts, log)
	}
}

// ServeConn serves a single connection: it runs the handshake and then the
// request/response cycle until the session ends. It closes conn before
// returning, and reports the error that ended the session, or nil if the
// client closed the connection cleanly.
func ServeConn(ctx context.Context, conn net.Conn, opts Options) error {
	if opts.Provider == nil {
		conn.Close()
		return errors.New("listener: no provider")
	}
	return serveConn(ctx, conn, rdb.NewDispatcher(opts.Provider), opts.passcode(), opts, opts.logger())
}

func serveConn(ctx context.Context, conn net.Conn, d *rdb.Dispatcher, pass *rdb.Passcode, opts Options, log *slog.Logger) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess := rdb.NewSession(conn.RemoteAddr().String())
	defer sess.End()
	log = log.With("session", sess.ID, "remote", sess.Remote)
	log.Info("connection received")

	// A session whose handshake cannot be bounded is not served.
	if opts.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
			log.Info("setting handshake deadline failed", "err", err)
			return &rdb.Error{Kind: rdb.KindTransport, Err: fmt.Errorf("set handshake deadline: %w", err)}
		}
	}
	if err := sess.Authenticate(conn, pass); err != nil {
		// Close without a reply, whatever the reason.
		log.Info("handshake failed", "kind", rdb.KindOf(err), "err", err)
		return err
	}
	if opts.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			log.Info("clearing handshake deadline failed", "err", err)
			return &rdb.Error{Kind: rdb.KindTransport, Err: fmt.Errorf("clear handshake deadline: %w", err)}
		}
	}
	log.Debug("session authenticated", "version", sess.Version)

	if log.Enabled(ctx, slog.LevelDebug) {
		sess.LogFrames(func(fi rdb.FrameInfo) {
			log.Debug("frame", "dir", value.Cond(fi.Sent, "send", "recv"), "frame", fi.Frame)
		})
	}
	err := sess.Serve(ctx, channel.Conn(conn, opts.ReadTimeout, opts.WriteTimeout), d)
	elapsed := time.Since(sess.Started).Round(time.Millisecond)
	if err != nil && ctx.Err() == nil {
		log.Info("session ended", "requests", sess.Requests(), "elapsed", elapsed, "kind", rdb.KindOf(err), "err", err)
	} else {
		log.Info("session closed", "requests", sess.Requests(), "elapsed", elapsed)
	}
	return err
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (net.Conn, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	return n.Listener.Accept()
}

// Listen opens a TCP listener on addr. If config != nil, accepted connections
// are wrapped in TLS using config.
func Listen(addr string, config *tls.Config) (net.Listener, error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if config != nil {
		return tls.NewListener(lst, config), nil
	}
	return lst, nil
}

// TLSConfig loads a server TLS configuration from a PEM certificate and key
// file pair.
func TLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
