// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/creachadair/rdb"
	"github.com/google/go-cmp/cmp"
)

// recordReader records the largest read requested from it.
type recordReader struct {
	r   io.Reader
	max int
}

func (r *recordReader) Read(data []byte) (int, error) {
	r.max = max(r.max, len(data))
	return r.r.Read(data)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("write failed") }

func frameBytes(length uint64, payload []byte) []byte {
	out := binary.BigEndian.AppendUint64(nil, length)
	return append(out, payload...)
}

func TestFrameRoundTrip(t *testing.T) {
	tests := [][]any{
		{},
		{"get_thread_list"},
		{"get_stack", uint64(17)},
		{"execute", "x = 1\ny = 2", uint64(12345678901)},
		{[]any{"a", "b"}},
		{nil},
		{strings.Repeat("long ", 1000)},
	}
	for _, want := range tests {
		f, err := rdb.Encode(want...)
		if err != nil {
			t.Fatalf("Encode %v: unexpected error: %v", want, err)
		}

		var buf bytes.Buffer
		nw, err := f.WriteTo(&buf)
		if err != nil {
			t.Fatalf("WriteTo: unexpected error: %v", err)
		}
		if int(nw) != 8+len(f.Payload) {
			t.Errorf("WriteTo: wrote %d bytes, want %d", nw, 8+len(f.Payload))
		}
		if got := binary.BigEndian.Uint64(buf.Bytes()[:8]); got != uint64(len(f.Payload)) {
			t.Errorf("Header length: got %d, want %d", got, len(f.Payload))
		}
		if !bytes.Equal(buf.Bytes(), f.Bytes()) {
			t.Errorf("Bytes: got %q, want %q", f.Bytes(), buf.Bytes())
		}

		var g rdb.Frame
		nr, err := g.ReadFrom(&buf)
		if err != nil {
			t.Fatalf("ReadFrom: unexpected error: %v", err)
		}
		if nr != nw {
			t.Errorf("ReadFrom: read %d bytes, want %d", nr, nw)
		}
		got, err := g.Values()
		if err != nil {
			t.Fatalf("Values: unexpected error: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Values (-want, +got):\n%s", diff)
		}
	}
}

func TestFrameChunkedRead(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 500)
	rr := &recordReader{r: bytes.NewReader(frameBytes(uint64(len(payload)), payload))}

	var f rdb.Frame
	if _, err := f.ReadFrom(rr); err != nil {
		t.Fatalf("ReadFrom: unexpected error: %v", err)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("Payload: got %d bytes, want %d", len(f.Payload), len(payload))
	}
	if rr.max > rdb.MaxChunk {
		t.Errorf("Largest read: got %d, want <= %d", rr.max, rdb.MaxChunk)
	}
}

// oneByteReader delivers its input one byte per read.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return o.r.Read(data[:1])
}

func TestFrameShortReads(t *testing.T) {
	f := rdb.MustEncode("get_locals", uint64(3))
	var g rdb.Frame
	if _, err := g.ReadFrom(oneByteReader{bytes.NewReader(f.Bytes())}); err != nil {
		t.Fatalf("ReadFrom: unexpected error: %v", err)
	}
	if !bytes.Equal(g.Payload, f.Payload) {
		t.Errorf("Payload: got %q, want %q", g.Payload, f.Payload)
	}
}

func TestFrameReadErrors(t *testing.T) {
	valid := rdb.MustEncode("get_stack", uint64(1)).Bytes()
	tests := []struct {
		name  string
		input []byte
		kind  rdb.ErrorKind
		cause error
	}{
		{"Empty", nil, rdb.KindTransport, io.EOF},
		{"ShortHeader", []byte{0, 0, 0}, rdb.KindFraming, io.ErrUnexpectedEOF},
		{"ShortPayload", valid[:len(valid)-2], rdb.KindFraming, io.ErrUnexpectedEOF},
		{"HeaderOnly", frameBytes(100, nil), rdb.KindFraming, io.ErrUnexpectedEOF},
		{"TooLong", frameBytes(rdb.MaxFrameSize+1, nil), rdb.KindFraming, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f rdb.Frame
			_, err := f.ReadFrom(bytes.NewReader(tc.input))
			if err == nil {
				t.Fatalf("ReadFrom: got %v, want error", f)
			}
			if got := rdb.KindOf(err); got != tc.kind {
				t.Errorf("ReadFrom error kind: got %v, want %v (%v)", got, tc.kind, err)
			}
			if tc.cause != nil && !errors.Is(err, tc.cause) {
				t.Errorf("ReadFrom error: got %v, want %v", err, tc.cause)
			}
			if len(f.Payload) != 0 {
				t.Errorf("Partial payload was kept: %q", f.Payload)
			}
		})
	}
}

func TestFrameWriteError(t *testing.T) {
	_, err := rdb.MustEncode("x").WriteTo(failWriter{})
	if !errors.Is(err, rdb.ErrTransport) {
		t.Errorf("WriteTo: got %v, want %v", err, rdb.ErrTransport)
	}
}

func TestFrameDecodeError(t *testing.T) {
	for _, payload := range []string{"", "\xff\xff", "garbage"} {
		f := &rdb.Frame{Payload: []byte(payload)}
		if vs, err := f.Values(); !errors.Is(err, rdb.ErrFraming) {
			t.Errorf("Values(%q): got (%v, %v), want %v", payload, vs, err, rdb.ErrFraming)
		}
		if s := f.String(); s == "" {
			t.Errorf("String(%q) is empty", payload)
		}
	}
}

func TestEncodeError(t *testing.T) {
	if f, err := rdb.Encode(make(chan int)); !errors.Is(err, rdb.ErrFraming) {
		t.Errorf("Encode(chan): got (%v, %v), want %v", f, err, rdb.ErrFraming)
	}
}
