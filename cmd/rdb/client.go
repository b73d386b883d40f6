package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/rdb"
)

func parseThreadID(env *command.Env) (rdb.ThreadID, error) {
	if len(env.Args) == 0 {
		return 0, env.Usagef("missing thread ID")
	}
	id, err := strconv.ParseUint(env.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid thread ID %q: %w", env.Args[0], err)
	}
	return rdb.ThreadID(id), nil
}

func runThreads(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	c, err := dial(env.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.ListThreads(env.Context())
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runStack(env *command.Env) error {
	id, err := parseThreadID(env)
	if err != nil {
		return err
	}
	c, err := dial(env.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	lines, err := c.Stack(env.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Thread %d (most recent call last):\n", id)
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func runBindings(global bool) func(*command.Env) error {
	return func(env *command.Env) error {
		id, err := parseThreadID(env)
		if err != nil {
			return err
		}
		c, err := dial(env.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		get := c.Locals
		if global {
			get = c.Globals
		}
		bs, err := get(env.Context(), id)
		if err != nil {
			return err
		}
		for _, b := range bs {
			fmt.Println(b)
		}
		return nil
	}
}

func runEval(env *command.Env) error {
	id, err := parseThreadID(env)
	if err != nil {
		return err
	}
	if len(env.Args) < 2 {
		return env.Usagef("missing code")
	}
	code := strings.Join(env.Args[1:], "\n")

	c, err := dial(env.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Evaluate(env.Context(), id, code)
}
