// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// DefaultPasscode is the passcode used when none is configured. It is not a
// secret and must be overridden in any real deployment.
const DefaultPasscode = "abc"

// A Passcode is the shared secret presented by clients during the handshake.
// The value is held in locked memory and compared in constant time. It is
// read-only after construction and safe for concurrent use.
type Passcode struct {
	buf *memguard.LockedBuffer
}

// NewPasscode constructs a Passcode holding a copy of s.
func NewPasscode(s string) *Passcode {
	// memguard wipes the slice it is given, so hand it a private copy.
	return &Passcode{buf: memguard.NewBufferFromBytes([]byte(s))}
}

// Equal reports whether got matches the passcode. The comparison takes time
// independent of the contents of got, though not of its length.
func (p *Passcode) Equal(got []byte) bool {
	if p == nil || p.buf == nil || !p.buf.IsAlive() {
		return len(got) == 0
	}
	return subtle.ConstantTimeCompare(p.buf.Bytes(), got) == 1
}

// IsDefault reports whether p holds DefaultPasscode.
func (p *Passcode) IsDefault() bool { return p.Equal([]byte(DefaultPasscode)) }

// Destroy wipes the passcode from memory. After Destroy, p matches only an
// empty passcode.
func (p *Passcode) Destroy() {
	if p != nil && p.buf != nil {
		p.buf.Destroy()
	}
}
