// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/rdb/packet"
)

const (
	// Version is the only protocol version supported by this package.
	Version = 1

	// MaxPasscodeLen is the largest passcode length a server will read
	// during the handshake.
	MaxPasscodeLen = 64 << 10
)

// ClientHandshake writes the client half of the connection handshake to w:
// the protocol version and the passcode length as big-endian uint64 values,
// followed by the passcode bytes.
//
// The server does not reply to the handshake. If authentication fails the
// server closes the connection, which the client observes as an error on its
// first subsequent read.
func ClientHandshake(w io.Writer, passcode string) error {
	var b packet.Builder
	b.Grow(16 + len(passcode))
	b.Uint64(Version)
	b.Uint64(uint64(len(passcode)))
	b.PutString(passcode)
	if _, err := w.Write(b.Bytes()); err != nil {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("write handshake: %w", err)}
	}
	return nil
}

// ServerHandshake reads the client half of the connection handshake from r
// and checks it against the expected passcode. It returns the protocol
// version presented by the client.
//
// ServerHandshake never writes to the connection: an unsupported version or
// a wrong passcode is reported as an AuthError, and the caller is expected to
// close the connection without a response.
func ServerHandshake(r io.Reader, want *Passcode) (uint64, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:8]); err != nil {
		return 0, handshakeReadError("version", err)
	}
	s := packet.NewScanner(hdr[:8])
	version, _ := s.Uint64()
	if version != Version {
		return version, newError(KindAuth, "unsupported protocol version %d", version)
	}

	if _, err := io.ReadFull(r, hdr[8:]); err != nil {
		return version, handshakeReadError("passcode length", err)
	}
	s = packet.NewScanner(hdr[8:])
	plen, _ := s.Uint64()
	if plen > MaxPasscodeLen {
		return version, newError(KindAuth, "passcode length %d exceeds limit %d", plen, MaxPasscodeLen)
	}

	got, _, err := readChunked(r, int(plen))
	if err != nil {
		return version, handshakeReadError("passcode", err)
	}
	defer clear(got)
	if !want.Equal(got) {
		return version, newError(KindAuth, "passcode mismatch")
	}
	return version, nil
}

func handshakeReadError(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &Error{Kind: KindTransport, Err: fmt.Errorf("read handshake %s: %w", what, err)}
}
