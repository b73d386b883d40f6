// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package lisp provides an inspect.Evaluator that runs Zylisp expressions.
//
// Each evaluator holds its own environment, so definitions made in one
// thread persist across evaluations in that thread but are not visible to
// other threads. Code evaluated for a thread also sees the locals of the
// thread and the globals of its registry, with locals taking precedence:
//
//	reg := inspect.NewRegistry(&inspect.Options{
//	   NewEvaluator: func() inspect.Evaluator { return lisp.New() },
//	})
package lisp

import (
	"fmt"
	"math"

	"github.com/creachadair/rdb/inspect"
	"github.com/zylisp/lang/interpreter"
	"github.com/zylisp/lang/parser"
	"github.com/zylisp/lang/sexpr"
)

// ResultName is the local binding that receives the result of the most
// recent successful evaluation.
const ResultName = "_"

// Evaluator is an inspect.Evaluator for Zylisp expressions.
type Evaluator struct {
	env *interpreter.Env
}

// New constructs an Evaluator with a fresh environment holding the standard
// primitives.
func New() *Evaluator {
	e := new(Evaluator)
	e.Reset()
	return e
}

// Reset discards all definitions and reloads the primitives.
func (e *Evaluator) Reset() {
	e.env = interpreter.NewEnv(nil)
	interpreter.LoadPrimitives(e.env)
}

// Eval implements the inspect.Evaluator interface. It evaluates a single
// expression and binds its printed result to the ResultName local of t.
//
// The expression runs in a scope holding the bindings of t, so a top-level
// define is the only way to add a definition that persists.
func (e *Evaluator) Eval(t *inspect.Thread, code string) error {
	scope := interpreter.NewEnv(e.env)
	bindAll(scope, t.Globals())
	bindAll(scope, t.Locals())

	out, err := e.eval(code, scope)
	if err != nil {
		return err
	}
	t.Locals().Set(ResultName, inspect.Literal(out))
	return nil
}

// EvalString evaluates a single expression in the environment of e and
// returns its printed result.
func (e *Evaluator) EvalString(code string) (string, error) { return e.eval(code, e.env) }

func (e *Evaluator) eval(code string, env *interpreter.Env) (string, error) {
	tokens, err := parser.Tokenize(code)
	if err != nil {
		return "", fmt.Errorf("tokenize: %w", err)
	}
	expr, err := parser.Read(tokens)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	result, err := interpreter.Eval(expr, env)
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	if name, ok := definedName(expr); ok && env != e.env {
		e.env.Define(name, result)
	}
	return result.String(), nil
}

// definedName reports the name bound by expr, if it is a define form.
func definedName(expr sexpr.SExpr) (string, bool) {
	list, ok := expr.(sexpr.List)
	if !ok || len(list.Elements) != 3 {
		return "", false
	}
	if head, ok := list.Elements[0].(sexpr.Symbol); !ok || head.Name != "define" {
		return "", false
	}
	name, ok := list.Elements[1].(sexpr.Symbol)
	return name.Name, ok
}

// bindAll defines each binding of b in env.
func bindAll(env *interpreter.Env, b *inspect.Bindings) {
	for name, v := range b.Values() {
		env.Define(name, toExpr(v))
	}
}

// toExpr converts a bound value to an expression. Values with no direct
// counterpart become strings of their rendered text.
func toExpr(v any) sexpr.SExpr {
	switch t := v.(type) {
	case nil:
		return sexpr.Nil{}
	case bool:
		return sexpr.Bool{Value: t}
	case string:
		return sexpr.String{Value: t}
	case int:
		return sexpr.Number{Value: int64(t)}
	case int32:
		return sexpr.Number{Value: int64(t)}
	case int64:
		return sexpr.Number{Value: t}
	case uint32:
		return sexpr.Number{Value: int64(t)}
	case uint64:
		if t <= math.MaxInt64 {
			return sexpr.Number{Value: int64(t)}
		}
	case inspect.Literal:
		// Results of earlier evaluations are stored as literals.
		if expr, ok := readAtom(string(t)); ok {
			return expr
		}
	}
	return sexpr.String{Value: inspect.Render(v)}
}

// readAtom parses s as a self-evaluating expression.
func readAtom(s string) (sexpr.SExpr, bool) {
	tokens, err := parser.Tokenize(s)
	if err != nil {
		return nil, false
	}
	expr, err := parser.Read(tokens)
	if err != nil {
		return nil, false
	}
	switch expr.(type) {
	case sexpr.Number, sexpr.String, sexpr.Bool, sexpr.Nil:
		return expr, true
	}
	return nil, false
}
