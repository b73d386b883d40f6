// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package lisp_test

import (
	"context"
	"testing"
	"time"

	"github.com/creachadair/rdb/inspect"
	"github.com/creachadair/rdb/lisp"
	"github.com/fortytw2/leaktest"
)

func TestEvalString(t *testing.T) {
	e := lisp.New()
	tests := []struct {
		input, want string
	}{
		{"(+ 1 2)", "3"},
		{"(* 2 3)", "6"},
	}
	for _, tc := range tests {
		got, err := e.EvalString(tc.input)
		if err != nil {
			t.Errorf("EvalString(%q): unexpected error: %v", tc.input, err)
		} else if got != tc.want {
			t.Errorf("EvalString(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestDefinitionsPersist(t *testing.T) {
	e := lisp.New()
	if _, err := e.EvalString("(define square (lambda (x) (* x x)))"); err != nil {
		t.Fatalf("Define: %v", err)
	}
	if got, err := e.EvalString("(square 5)"); err != nil || got != "25" {
		t.Errorf("Call: got (%q, %v), want 25", got, err)
	}

	// A separate evaluator does not see the definition.
	if got, err := lisp.New().EvalString("(square 5)"); err == nil {
		t.Errorf("Call in fresh evaluator: got %q, want error", got)
	}

	e.Reset()
	if got, err := e.EvalString("(square 5)"); err == nil {
		t.Errorf("Call after Reset: got %q, want error", got)
	}
}

func TestErrors(t *testing.T) {
	e := lisp.New()
	for _, bad := range []string{
		"(+",      // unclosed paren
		"(+ 1 x)", // undefined variable
		"(1 2 3)", // not a function
	} {
		if got, err := e.EvalString(bad); err == nil {
			t.Errorf("EvalString(%q): got %q, want error", bad, got)
		} else {
			t.Logf("EvalString(%q): error OK: %v", bad, err)
		}
	}
}

func TestThreadEval(t *testing.T) {
	defer leaktest.Check(t)()

	reg := inspect.NewRegistry(&inspect.Options{
		NewEvaluator: func() inspect.Evaluator { return lisp.New() },
	})
	ctx, cancel := context.WithCancel(context.Background())
	th := reg.Go("lisp", func(t *inspect.Thread) {
		for t.Sleep(ctx, 10*time.Millisecond) == nil {
		}
	})
	defer func() { cancel(); <-th.Done() }()

	if err := reg.Evaluate(ctx, "(define x 41)", th.ID()); err != nil {
		t.Fatalf("Evaluate define: %v", err)
	}
	if err := reg.Evaluate(ctx, "(+ x 1)", th.ID()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if v, ok := th.Locals().Get(lisp.ResultName); ok && inspect.Render(v) == "42" {
			break
		}
		if time.Now().After(deadline) {
			v, _ := th.Locals().Get(lisp.ResultName)
			t.Fatalf("Result: got %v, want 42", v)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestThreadBindings(t *testing.T) {
	reg := inspect.NewRegistry(nil)
	reg.Globals().Set("g", 10)
	reg.Globals().Set("name", "rdb")
	reg.Globals().Set("shadow", 1)
	th := reg.NewThread("scope", func(*inspect.Thread) {})
	th.Locals().Set("n", int64(5))
	th.Locals().Set("shadow", 2)

	e := lisp.New()
	tests := []struct {
		input, want string
	}{
		{"(+ n 1)", "6"},
		{"(+ g 1)", "11"},
		{"(+ n g)", "15"},
		{"name", `"rdb"`},
		{"shadow", "2"},  // locals hide globals
		{"(* _ 3)", "6"}, // the previous result
		{"(define k (+ n g))", "15"},
	}
	for _, tc := range tests {
		if err := e.Eval(th, tc.input); err != nil {
			t.Errorf("Eval(%q): unexpected error: %v", tc.input, err)
			continue
		}
		v, _ := th.Locals().Get(lisp.ResultName)
		if got := inspect.Render(v); got != tc.want {
			t.Errorf("Eval(%q): got %s, want %s", tc.input, got, tc.want)
		}
	}

	// Top-level definitions persist, but bindings of the thread do not leak
	// into the environment of the evaluator.
	if got, err := e.EvalString("k"); err != nil || got != "15" {
		t.Errorf("EvalString(k): got (%q, %v), want 15", got, err)
	}
	if got, err := e.EvalString("n"); err == nil {
		t.Errorf("EvalString(n): got %q, want error", got)
	}

	// Changes to the bindings are visible to the next evaluation.
	reg.Globals().Set("g", 20)
	if err := e.Eval(th, "(+ g 1)"); err != nil {
		t.Fatalf("Eval: unexpected error: %v", err)
	}
	if v, _ := th.Locals().Get(lisp.ResultName); inspect.Render(v) != "21" {
		t.Errorf("Eval after update: got %v, want 21", v)
	}
}
