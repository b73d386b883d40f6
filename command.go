// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package rdb

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Command is one of the fixed operations understood by a Dispatcher.
type Command byte

const (
	ListThreads Command = iota + 1 // list identifiers of running threads
	GetStack                       // stack trace of one thread
	GetLocals                      // local bindings of one thread
	GetGlobals                     // global bindings visible to one thread
	Evaluate                       // run code in the context of one thread

	numCommands = iota
)

// commandInfo records the wire name and argument count of each command.
var commandInfo = [numCommands + 1]struct {
	name  string
	alias string
	arity int
}{
	ListThreads: {"get_thread_list", "ListThreads", 0},
	GetStack:    {"get_stack", "GetStack", 1},
	GetLocals:   {"get_locals", "GetLocals", 1},
	GetGlobals:  {"get_globals", "GetGlobals", 1},
	Evaluate:    {"execute", "Evaluate", 2},
}

// commandByName maps wire names and their aliases to commands.
var commandByName = func() map[string]Command {
	m := make(map[string]Command)
	for c := ListThreads; c <= Evaluate; c++ {
		m[commandInfo[c].name] = c
		m[commandInfo[c].alias] = c
	}
	return m
}()

// Commands returns all the commands in order.
func Commands() []Command { return []Command{ListThreads, GetStack, GetLocals, GetGlobals, Evaluate} }

// ParseCommand returns the command whose wire name (or alias) is name.
// An unknown name is a DispatchError.
func ParseCommand(name string) (Command, error) {
	if c, ok := commandByName[name]; ok {
		return c, nil
	}
	return 0, newError(KindDispatch, "%q is not a valid command", name)
}

// Name returns the wire name of c.
func (c Command) Name() string {
	if c.valid() {
		return commandInfo[c].name
	}
	return ""
}

// Arity reports the number of arguments c requires.
func (c Command) Arity() int {
	if c.valid() {
		return commandInfo[c].arity
	}
	return 0
}

func (c Command) valid() bool { return c >= ListThreads && c <= Evaluate }

func (c Command) String() string {
	if c.valid() {
		return commandInfo[c].alias
	}
	return fmt.Sprintf("Command(%d)", byte(c))
}

// A Request is a decoded request message: a command and its arguments.
type Request struct {
	Command Command
	Thread  ThreadID // for all commands except ListThreads
	Code    string   // for Evaluate
}

// Values returns the request in message form: the wire name of the command
// followed by its arguments.
func (r Request) Values() []any {
	switch r.Command {
	case ListThreads:
		return []any{r.Command.Name()}
	case Evaluate:
		return []any{r.Command.Name(), r.Code, r.Thread}
	default:
		return []any{r.Command.Name(), r.Thread}
	}
}

// String returns a human-friendly rendering of the request.
func (r Request) String() string {
	switch r.Command {
	case ListThreads:
		return fmt.Sprintf("Request(%v)", r.Command)
	case Evaluate:
		return fmt.Sprintf("Request(%v, thread=%d, %d bytes of code)", r.Command, r.Thread, len(r.Code))
	default:
		return fmt.Sprintf("Request(%v, thread=%d)", r.Command, r.Thread)
	}
}

// ParseRequest decodes a request frame. The first element of the message
// must name a known command, and the remaining elements must match its
// arguments. Any mismatch is a DispatchError; a payload that is not a valid
// message at all is a FramingError.
func ParseRequest(f *Frame) (*Request, error) {
	var raw []cbor.RawMessage
	if err := f.Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, newError(KindDispatch, "empty request")
	}
	var name string
	if err := cbor.Unmarshal(raw[0], &name); err != nil {
		return nil, newError(KindDispatch, "command name: %w", err)
	}
	cmd, err := ParseCommand(name)
	if err != nil {
		return nil, err
	}
	args := raw[1:]
	if len(args) != cmd.Arity() {
		return nil, newError(KindDispatch, "%v takes %d arguments, got %d", cmd, cmd.Arity(), len(args))
	}

	req := &Request{Command: cmd}
	switch cmd {
	case GetStack, GetLocals, GetGlobals:
		err = decodeArg(args[0], &req.Thread, "thread id")
	case Evaluate:
		if err = decodeArg(args[0], &req.Code, "code"); err == nil {
			err = decodeArg(args[1], &req.Thread, "thread id")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", cmd, err)
	}
	return req, nil
}

func decodeArg(data cbor.RawMessage, v any, what string) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return newError(KindDispatch, "invalid %s: %w", what, err)
	}
	return nil
}
