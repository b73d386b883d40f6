// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/rdb/packet"
	"github.com/fxamacker/cbor/v2"
)

const (
	// MaxChunk is the largest number of bytes requested from the underlying
	// stream by a single read while collecting a payload.
	MaxChunk = 1024

	// MaxFrameSize is the largest payload length a receiver will accept.
	MaxFrameSize = 64 << 20

	headerSize = 8 // big-endian uint64 payload length
)

// Frame is one length-prefixed message as it appears on the wire.  The
// payload is a CBOR array holding the ordered values of the message.
type Frame struct {
	Payload []byte
}

// Encode constructs a frame whose payload is the CBOR encoding of the
// ordered sequence of values.
func Encode(values ...any) (*Frame, error) {
	if values == nil {
		values = []any{}
	}
	data, err := cbor.Marshal(values)
	if err != nil {
		return nil, newError(KindFraming, "encode message: %w", err)
	}
	return &Frame{Payload: data}, nil
}

// MustEncode is as Encode, but panics if the values cannot be encoded.
func MustEncode(values ...any) *Frame {
	f, err := Encode(values...)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode unpacks the payload of f into v, which must be a pointer to a
// slice, array, or a struct tagged with `cbor:",toarray"`.
func (f *Frame) Decode(v any) error {
	if err := cbor.Unmarshal(f.Payload, v); err != nil {
		return newError(KindFraming, "decode message: %w", err)
	}
	return nil
}

// Values decodes the payload of f as a generic sequence of values.
func (f *Frame) Values() ([]any, error) {
	var vs []any
	if err := f.Decode(&vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// Bytes returns the binary encoding of f, header included.
func (f Frame) Bytes() []byte {
	var b packet.Builder
	b.Grow(headerSize + len(f.Payload))
	b.Uint64(uint64(len(f.Payload)))
	b.Put(f.Payload)
	return b.Bytes()
}

// WriteTo writes the frame to w in binary format. It satisfies io.WriterTo.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	var hdr packet.Builder
	hdr.Grow(headerSize)
	hdr.Uint64(uint64(len(f.Payload)))
	nw, err := w.Write(hdr.Bytes())
	if err == nil && len(f.Payload) != 0 {
		var np int
		np, err = w.Write(f.Payload)
		nw += np
	}
	if err != nil {
		return int64(nw), &Error{Kind: KindTransport, Err: err}
	}
	return int64(nw), nil
}

// ReadFrom reads a frame from r in binary format. It satisfies io.ReaderFrom.
//
// The payload is collected in reads of at most MaxChunk bytes. If r ends
// before the full payload has arrived, ReadFrom reports a FramingError
// wrapping io.ErrUnexpectedEOF and leaves f.Payload empty; a partial payload
// is never handed to the decoder.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	var buf [headerSize]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		if nr == 0 && errors.Is(err, io.EOF) {
			// A clean end of stream between frames is an orderly close.
			return 0, &Error{Kind: KindTransport, Err: io.EOF}
		}
		return int64(nr), readError("short frame header", err)
	}

	psize, _ := packet.NewScanner(buf[:]).Uint64()
	if psize > MaxFrameSize {
		return int64(nr), newError(KindFraming, "payload length %d exceeds limit %d", psize, MaxFrameSize)
	}
	data, np, err := readChunked(r, int(psize))
	nr += np
	if err != nil {
		f.Payload = nil
		return int64(nr), readError("short payload", err)
	}
	f.Payload = data
	return int64(nr), nil
}

// readChunked reads exactly n bytes from r, in reads no larger than MaxChunk.
func readChunked(r io.Reader, n int) ([]byte, int, error) {
	out := make([]byte, n)
	var nr int
	for nr < n {
		end := min(nr+MaxChunk, n)
		k, err := r.Read(out[nr:end])
		nr += k
		if err != nil {
			if nr == n {
				break
			} else if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, nr, err
		}
	}
	return out, nr, nil
}

// readError classifies a read failure: a stream that ends mid-message is a
// framing error, anything else is a transport error.
func readError(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Kind: KindFraming, Err: fmt.Errorf("%s: %w", what, err)}
	}
	return &Error{Kind: KindTransport, Err: fmt.Errorf("%s: %w", what, err)}
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	if vs, err := f.Values(); err == nil {
		return fmt.Sprintf("Frame(%d bytes, %v)", len(f.Payload), vs)
	}
	if len(f.Payload) > 16 {
		return fmt.Sprintf("Frame(%d bytes, %+v ...)", len(f.Payload), f.Payload[:16])
	}
	return fmt.Sprintf("Frame(%d bytes, %+v)", len(f.Payload), f.Payload)
}
