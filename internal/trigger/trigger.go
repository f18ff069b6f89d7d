// Package trigger builds the conditions that gate listener execution.
//
// A Condition is a normalized descriptor {Kind, Methods}: OR fires when any
// member completes, AND fires once every member has completed since the
// previous firing. Conditions are built once at registration time and are
// immutable afterwards.
//
// Builder arguments are polymorphic. Each may be:
//   - a string naming a node (or a router path)
//   - a node reference, i.e. any value with a Name() string method
//   - a previously built Condition (or *Condition), whose Methods are merged
//     and whose Kind is discarded
//
// Example:
//
//	cond, err := trigger.And("fetch", trigger.MustOr("parse", "cache"))
//	// cond == and(fetch, parse, cache)
package trigger

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind distinguishes OR from AND conditions.
type Kind string

const (
	// KindOr fires on any single member's completion.
	KindOr Kind = "OR"
	// KindAnd fires once all members have completed.
	KindAnd Kind = "AND"
)

// Named is a node reference. *graph.Node satisfies it.
type Named interface {
	Name() string
}

// Condition is an OR/AND combination of node names.
// Methods is non-empty, de-duplicated and keeps first-seen order.
type Condition struct {
	Kind    Kind
	Methods []string
}

// Has reports whether name is a member of the condition.
func (c Condition) Has(name string) bool {
	for _, m := range c.Methods {
		if m == name {
			return true
		}
	}
	return false
}

// String renders the condition as or(a, b) / and(a, b).
func (c Condition) String() string {
	return fmt.Sprintf("%s(%s)", strings.ToLower(string(c.Kind)), strings.Join(c.Methods, ", "))
}

// Or combines args into an OR condition.
func Or(args ...any) (Condition, error) {
	return build(KindOr, args)
}

// And combines args into an AND condition.
func And(args ...any) (Condition, error) {
	return build(KindAnd, args)
}

// MustOr is like Or but panics on error. Intended for package-level
// declarations where a malformed condition is a programming error.
func MustOr(args ...any) Condition {
	c, err := Or(args...)
	if err != nil {
		panic(err)
	}
	return c
}

// MustAnd is like And but panics on error.
func MustAnd(args ...any) Condition {
	c, err := And(args...)
	if err != nil {
		panic(err)
	}
	return c
}

// From converts a single listen/start argument into a Condition. A bare
// reference becomes a singleton OR; a Condition is returned unchanged.
func From(arg any) (Condition, error) {
	switch v := arg.(type) {
	case Condition:
		if len(v.Methods) == 0 {
			return Condition{}, &InvalidConditionError{Kind: v.Kind, Arg: v, Reason: "condition has no methods"}
		}
		return build(v.Kind, []any{v})
	case *Condition:
		if v == nil {
			return Condition{}, &InvalidConditionError{Kind: KindOr, Arg: arg, Reason: "nil condition"}
		}
		return From(*v)
	default:
		return build(KindOr, []any{arg})
	}
}

func build(kind Kind, args []any) (Condition, error) {
	if kind != KindOr && kind != KindAnd {
		return Condition{}, &InvalidConditionError{Kind: kind, Reason: fmt.Sprintf("unknown condition kind %q", kind)}
	}
	if len(args) == 0 {
		return Condition{}, &InvalidConditionError{Kind: kind, Reason: "at least one argument is required"}
	}

	c := Condition{Kind: kind}
	seen := make(map[string]bool)
	add := func(name string, arg any) error {
		name = Normalize(name)
		if name == "" {
			return &InvalidConditionError{Kind: kind, Arg: arg, Reason: "empty node name"}
		}
		if !seen[name] {
			seen[name] = true
			c.Methods = append(c.Methods, name)
		}
		return nil
	}

	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			if err := add(v, arg); err != nil {
				return Condition{}, err
			}
		case Condition:
			if len(v.Methods) == 0 {
				return Condition{}, &InvalidConditionError{Kind: kind, Arg: arg, Reason: "nested condition has no methods"}
			}
			for _, m := range v.Methods {
				if err := add(m, arg); err != nil {
					return Condition{}, err
				}
			}
		case *Condition:
			if v == nil || len(v.Methods) == 0 {
				return Condition{}, &InvalidConditionError{Kind: kind, Arg: arg, Reason: "nested condition has no methods"}
			}
			for _, m := range v.Methods {
				if err := add(m, arg); err != nil {
					return Condition{}, err
				}
			}
		case Named:
			if isNilNamed(v) {
				return Condition{}, &InvalidConditionError{Kind: kind, Arg: arg, Reason: "nil node reference"}
			}
			if err := add(v.Name(), arg); err != nil {
				return Condition{}, err
			}
		default:
			return Condition{}, &InvalidConditionError{
				Kind:   kind,
				Arg:    arg,
				Reason: "condition must be a node, a node name, or a result of Or/And",
			}
		}
	}

	return c, nil
}

// Normalize trims and NFC-normalizes a node name so that visually identical
// names compare equal.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
