// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures that can end a session.
type ErrorKind byte

const (
	KindTransport ErrorKind = iota + 1 // I/O failure on the underlying stream
	KindFraming                        // malformed or truncated message
	KindAuth                           // bad version or passcode during handshake
	KindLookup                         // thread identifier not currently valid
	KindDispatch                       // unrecognized or malformed command
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindFraming:
		return "FramingError"
	case KindAuth:
		return "AuthError"
	case KindLookup:
		return "LookupError"
	case KindDispatch:
		return "DispatchError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", byte(k))
	}
}

// Error satisfies the error interface, so that a bare kind can be used as a
// target for errors.Is.
func (k ErrorKind) Error() string { return k.String() }

// Sentinel kinds for use with errors.Is.
var (
	ErrTransport error = KindTransport
	ErrFraming   error = KindFraming
	ErrAuth      error = KindAuth
	ErrLookup    error = KindLookup
	ErrDispatch  error = KindDispatch
)

// Error is the concrete type of errors reported by the protocol engine.
// None of these are reported to the remote peer: every kind terminates the
// session that produced it.
type Error struct {
	Kind ErrorKind
	Err  error // the underlying cause, if any
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap reports the underlying cause of e.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e, so that errors.Is(err,
// rdb.ErrLookup) works for any wrapped *Error.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// LookupErrorf returns a LookupError with the given formatted message.
// Providers use this to report a thread identifier that is not live.
func LookupErrorf(format string, args ...any) error { return newError(KindLookup, format, args...) }

// KindOf reports the kind of err, or 0 if err is not (and does not wrap) an
// *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
