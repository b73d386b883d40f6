// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package inspect

import (
	"errors"
	"fmt"
	"go/token"
	"strconv"
	"strings"
)

// An Evaluator runs code in the context of a thread. Eval is called only on
// the goroutine of t, so an Evaluator that belongs to a single thread needs
// no locking of its own.
type Evaluator interface {
	Eval(t *Thread, code string) error
}

// AssignEvaluator is an Evaluator for a minimal statement language over the
// bindings of a thread. Each non-blank line of code is one of:
//
//	name = value     # bind name to value
//	del name         # remove the binding for name
//	# comment
//
// Names are resolved in the locals of the thread first, then in the globals
// of its registry. Assigning to a name that is bound only as a global updates
// the global; any other assignment binds a local.
//
// A value is an integer, a floating-point number, true, false, nil, a quoted
// Go string, or the name of a bound variable, whose value is copied. Any
// other value is bound as a Literal of its text.
//
// Lines are applied in order; the first invalid line stops evaluation and
// is reported as an error, but earlier lines remain in effect.
type AssignEvaluator struct{}

// Eval implements the Evaluator interface.
func (AssignEvaluator) Eval(t *Thread, code string) error {
	for i, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := evalLine(t, line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// scope returns the bindings in which name is bound for t, or nil.
func scope(t *Thread, name string) *Bindings {
	if _, ok := t.Locals().Get(name); ok {
		return t.Locals()
	} else if _, ok := t.Globals().Get(name); ok {
		return t.Globals()
	}
	return nil
}

func evalLine(t *Thread, line string) error {
	lhs, rhs, isAssign := strings.Cut(line, "=")
	if rest, ok := strings.CutPrefix(line, "del "); ok && !isAssign {
		name := strings.TrimSpace(rest)
		if !token.IsIdentifier(name) {
			return fmt.Errorf("invalid name %q", name)
		}
		if b := scope(t, name); b != nil {
			b.Delete(name)
		}
		return nil
	}
	if !isAssign {
		return errors.New("expected assignment")
	}
	name := strings.TrimSpace(lhs)
	if !token.IsIdentifier(name) {
		return fmt.Errorf("invalid name %q", name)
	}
	text := strings.TrimSpace(rhs)
	if text == "" || strings.HasPrefix(text, "=") {
		return fmt.Errorf("missing value for %q", name)
	}
	b := scope(t, name)
	if b == nil {
		b = t.Locals()
	}
	b.Set(name, parseValue(t, text))
	return nil
}

func parseValue(t *Thread, s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	if token.IsIdentifier(s) {
		if b := scope(t, s); b != nil {
			v, _ := b.Get(s)
			return v
		}
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v
	} else if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	} else if v, err := strconv.Unquote(s); err == nil {
		return v
	}
	return Literal(s)
}
