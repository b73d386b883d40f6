// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package rdb implements a remote introspection protocol for a running
// process.
//
// A client connects to the process over a reliable stream, authenticates
// with a shared passcode, and then issues a sequence of commands to list the
// threads of the process, view the stack and bindings of a thread, or queue
// code for evaluation in the context of a thread. The server answers each
// command with exactly one response, in order.
//
// # Frames
//
// Every message after the handshake is a [Frame]: an 8-byte big-endian
// payload length followed by the payload, which is a CBOR array holding the
// ordered values of the message. A request is the wire name of a command
// followed by its arguments; a response holds the single result value.
//
// Receivers collect a payload in reads of at most [MaxChunk] bytes and
// refuse payloads longer than [MaxFrameSize]. A stream that ends partway
// through a frame is a framing error.
//
// # Handshake
//
// Before any frames, the client sends the protocol [Version], the length of
// its passcode, and the passcode bytes (see [ClientHandshake]). The server
// checks these with [ServerHandshake] and sends nothing in reply: if the
// handshake fails, the server closes the connection.
//
// # Commands
//
// The commands are fixed:
//
//	get_thread_list                  -> [thread-id, ...]
//	get_stack    thread-id           -> [line, ...]
//	get_locals   thread-id           -> [[name, value], ...]
//	get_globals  thread-id           -> [[name, value], ...]
//	execute      code, thread-id     -> nil
//
// A [Dispatcher] decodes each request, runs it against a [Provider], and
// encodes the result. The inspect package provides a Provider over the
// goroutines of the current process.
//
// # Sessions
//
// A [Session] is the server side of one connection. The server serves one
// session at a time. Any failure during a session, including a request for
// an unknown thread or command, ends the session: nothing is reported to the
// client except that the connection closes. The concrete type of such errors
// is [*Error], whose [ErrorKind] classifies the failure.
//
// The listener package provides the accept loop, and the client package
// implements the calling side.
//
// # Metrics
//
// Sessions maintain a collection of metrics shared by the process. Use the
// [Metrics] function to obtain an [expvar.Map] containing them.
package rdb
