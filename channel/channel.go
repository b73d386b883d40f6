// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the rdb.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/creachadair/rdb"
)

// Direct constructs a connected pair of in-memory channels that pass frames
// directly without encoding into binary. Frames sent to A are received by B
// and vice versa.
func Direct() (A, B rdb.Channel) {
	a2b := make(chan *rdb.Frame)
	b2a := make(chan *rdb.Frame)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- *rdb.Frame
	b2a <-chan *rdb.Frame
}

// Send implements a method of the [rdb.Channel] interface.
func (d direct) Send(f *rdb.Frame) (err error) {
	defer safeClose(&err)
	d.a2b <- f
	return nil
}

// Recv implements a method of the [rdb.Channel] interface.
func (d direct) Recv() (*rdb.Frame, error) {
	f, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return f, nil
}

// Close implements a method of the [rdb.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc. No single
// read from r requests more than rdb.MaxChunk bytes.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReaderSize(r, rdb.MaxChunk), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives frames on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [rdb.Channel] interface.
func (c IOChannel) Send(f *rdb.Frame) error {
	if _, err := f.WriteTo(c.w); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return &rdb.Error{Kind: rdb.KindTransport, Err: err}
	}
	return nil
}

// Recv implements a method of the [rdb.Channel] interface.
func (c IOChannel) Recv() (*rdb.Frame, error) {
	var f rdb.Frame
	if _, err := f.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &f, nil
}

// Close implements a method of the [rdb.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// Conn constructs a channel on a network connection. If readTimeout > 0, each
// receive must complete within that interval of when it began; likewise
// writeTimeout for each send. A zero timeout means no deadline.
func Conn(conn net.Conn, readTimeout, writeTimeout time.Duration) ConnChannel {
	return ConnChannel{
		IOChannel: IO(conn, conn),
		conn:      conn,
		rtimeout:  readTimeout,
		wtimeout:  writeTimeout,
	}
}

// A ConnChannel is an IOChannel on a net.Conn that applies per-operation
// read and write deadlines.
type ConnChannel struct {
	IOChannel
	conn     net.Conn
	rtimeout time.Duration
	wtimeout time.Duration
}

// Send implements a method of the [rdb.Channel] interface.
func (c ConnChannel) Send(f *rdb.Frame) error {
	if c.wtimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.wtimeout)); err != nil {
			return &rdb.Error{Kind: rdb.KindTransport, Err: err}
		}
	}
	return c.IOChannel.Send(f)
}

// Recv implements a method of the [rdb.Channel] interface.
func (c ConnChannel) Recv() (*rdb.Frame, error) {
	if c.rtimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.rtimeout)); err != nil {
			return nil, &rdb.Error{Kind: rdb.KindTransport, Err: err}
		}
	}
	return c.IOChannel.Recv()
}

// RemoteAddr reports the remote address of the underlying connection.
func (c ConnChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
