package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/rdb"
)

var packFlags struct {
	Hello bool `flag:"hello,Prefix the frame with a client handshake using --passcode"`
}

func frameCommand() *command.C {
	return &command.C{
		Name: "frame",
		Help: "Pack and unpack protocol frames.",
		Commands: []*command.C{
			{
				Name:  "pack",
				Usage: "<command> [argument]...",
				Help: `Pack a request into a binary frame and write it to stdout.

The command is a wire name (e.g., get_stack) or its alias (e.g., GetStack).
Thread IDs are decimal integers, and code is passed as a single argument.
With --hello, the frame is preceded by a client handshake, so that the output
can be sent directly to a server:

  rdb frame pack --hello get_thread_list | nc localhost 1235 | rdb frame unpack
`,
				SetFlags: command.Flags(flax.MustBind, &packFlags),
				Run:      runPack,
			},
			{
				Name: "unpack",
				Help: "Read binary frames from stdin and print their contents.",
				Run:  runUnpack,
			},
		},
	}
}

func runPack(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing command")
	}
	req, err := packRequest(env.Args[0], env.Args[1:])
	if err != nil {
		return err
	}
	f, err := rdb.Encode(req.Values()...)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(os.Stdout)
	if packFlags.Hello {
		pass := flags.Passcode
		switch pass {
		case "":
			pass = rdb.DefaultPasscode
		case "-":
			if pass, err = readPasscode(); err != nil {
				return err
			}
		}
		if err := rdb.ClientHandshake(w, pass); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

// packRequest constructs a request for the named command from string
// arguments.
func packRequest(name string, args []string) (*rdb.Request, error) {
	cmd, err := rdb.ParseCommand(name)
	if err != nil {
		return nil, err
	}
	if len(args) != cmd.Arity() {
		return nil, fmt.Errorf("%v takes %d arguments, got %d", cmd, cmd.Arity(), len(args))
	}
	req := &rdb.Request{Command: cmd}
	switch cmd {
	case rdb.ListThreads:
		return req, nil
	case rdb.Evaluate:
		req.Code, args = args[0], args[1:]
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid thread ID %q: %w", args[0], err)
	}
	req.Thread = rdb.ThreadID(id)
	return req, nil
}

func runUnpack(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	return unpackFrames(bufio.NewReader(os.Stdin), os.Stdout)
}

// unpackFrames prints the contents of each frame read from r to w, until r
// is exhausted.
func unpackFrames(r io.Reader, w io.Writer) error {
	for {
		var f rdb.Frame
		if _, err := f.ReadFrom(r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		vs, err := f.Values()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, vs...)
	}
}
