// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package packet encodes and decodes the fixed-width big-endian words used by
// the connection handshake and the frame header.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A Builder accumulates the bytes of an outgoing header. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Put appends the bytes of data to b without framing.
func (b *Builder) Put(data []byte) { b.buf = append(b.buf, data...) }

// PutString appends s to b without framing.
func (b *Builder) PutString(s string) { b.buf = append(b.buf, s...) }

// Uint64 appends v to b as a big-endian word.
func (b *Builder) Uint64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

// Bytes returns the contents of b. The slice aliases the buffer of b, so the
// caller must not modify it while b is still in use.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow ensures that at least n more bytes can be added to b without another
// allocation.
func (b *Builder) Grow(n int) {
	if want := len(b.buf) + n; cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner consumes big-endian words from the head of a buffer.
type Scanner struct {
	rest []byte
}

// NewScanner constructs a Scanner over input. The scanner does not copy or
// modify input.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

// Uint64 consumes a big-endian word from s. If fewer than 8 bytes remain, it
// reports an error wrapping [io.ErrUnexpectedEOF] and consumes nothing.
func (s *Scanner) Uint64() (uint64, error) {
	if len(s.rest) < 8 {
		return 0, fmt.Errorf("word truncated (%d < 8 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	v := binary.BigEndian.Uint64(s.rest)
	s.rest = s.rest[8:]
	return v, nil
}
