// Package compiler turns CUE flow definitions into graph declarations.
//
// A flow file declares topology only; node bodies and router functions are
// supplied in Go through a Catalog when the flow is bound:
//
//	flow: Pipeline: {
//		state: "untyped"
//		node: fetch: start: true
//		node: double: { listen: "fetch", input: true }
//		node: report: listen: and: ["fetch", "double"]
//		node: retry: listen: ["report", {or: ["a", "b"]}]
//		router: choose: { for: "fetch", paths: ["left", "right"], default: "left" }
//	}
//
// A listen value is a node name, an {or: [...]} / {and: [...]} combination
// (members may nest), or a list of those, each registered as an
// independent condition.
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/wavefront/internal/trigger"
)

// StateUntyped is the state name selecting an untyped map.
const StateUntyped = "untyped"

// FlowSpec is a compiled flow definition.
type FlowSpec struct {
	Name    string
	State   string
	Nodes   []NodeSpec
	Routers []RouterSpec
	Pos     token.Pos
}

// NodeSpec declares one node.
type NodeSpec struct {
	Name       string
	Start      bool
	Input      bool
	Conditions []trigger.Condition
	Pos        token.Pos
}

// RouterSpec declares one router.
type RouterSpec struct {
	Name    string
	For     string
	Paths   []string
	Default string
	Pos     token.Pos
}

// Compile parses a single flow struct, e.g. the value at path "flow.Pipeline".
func Compile(v cue.Value) (*FlowSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &FlowSpec{State: StateUntyped, Pos: v.Pos()}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	if sv := v.LookupPath(cue.ParsePath("state")); sv.Exists() {
		s, err := sv.String()
		if err != nil {
			return nil, &CompileError{Field: "state", Message: "state must be a string", Pos: sv.Pos()}
		}
		spec.State = s
	}

	names := make(map[string]string)

	nodes, err := parseNodes(v, names)
	if err != nil {
		return nil, err
	}
	spec.Nodes = nodes
	if len(spec.Nodes) == 0 {
		return nil, &CompileError{Field: "node", Message: "at least one node is required", Pos: v.Pos()}
	}

	routers, err := parseRouters(v, names)
	if err != nil {
		return nil, err
	}
	spec.Routers = routers

	return spec, nil
}

// CompileAll compiles every flow under the top-level "flow" field.
func CompileAll(v cue.Value) ([]*FlowSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	flowsVal := v.LookupPath(cue.ParsePath("flow"))
	if !flowsVal.Exists() {
		return nil, &CompileError{Field: "flow", Message: "no flows defined", Pos: v.Pos()}
	}

	iter, err := flowsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var flows []*FlowSpec
	for iter.Next() {
		spec, err := Compile(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("flow.%s: %w", iter.Label(), err)
		}
		flows = append(flows, spec)
	}
	return flows, nil
}

// CompileSource compiles CUE source text. filename is used in error
// positions.
func CompileSource(filename, src string) ([]*FlowSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return CompileAll(v)
}

func parseNodes(v cue.Value, names map[string]string) ([]NodeSpec, error) {
	nodesVal := v.LookupPath(cue.ParsePath("node"))
	if !nodesVal.Exists() {
		return nil, nil
	}
	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var nodes []NodeSpec
	for iter.Next() {
		nv := iter.Value()
		n := NodeSpec{Name: iter.Label(), Pos: nv.Pos()}
		names[n.Name] = "node"

		if n.Start, err = optionalBool(nv, "start"); err != nil {
			return nil, err
		}
		if n.Input, err = optionalBool(nv, "input"); err != nil {
			return nil, err
		}

		if lv := nv.LookupPath(cue.ParsePath("listen")); lv.Exists() {
			conds, err := parseListen(lv)
			if err != nil {
				return nil, err
			}
			n.Conditions = conds
		}

		if !n.Start && len(n.Conditions) == 0 {
			return nil, &CompileError{
				Field:   "node." + n.Name,
				Message: "node must set start: true or declare listen",
				Pos:     nv.Pos(),
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseRouters(v cue.Value, names map[string]string) ([]RouterSpec, error) {
	routersVal := v.LookupPath(cue.ParsePath("router"))
	if !routersVal.Exists() {
		return nil, nil
	}
	iter, err := routersVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var routers []RouterSpec
	for iter.Next() {
		rv := iter.Value()
		r := RouterSpec{Name: iter.Label(), Pos: rv.Pos()}
		field := "router." + r.Name
		if names[r.Name] != "" {
			return nil, &CompileError{Field: field, Message: "name already used by a node", Pos: rv.Pos()}
		}
		names[r.Name] = "router"

		fv := rv.LookupPath(cue.ParsePath("for"))
		if !fv.Exists() {
			return nil, &CompileError{Field: field + ".for", Message: "router source is required", Pos: rv.Pos()}
		}
		if r.For, err = fv.String(); err != nil {
			return nil, &CompileError{Field: field + ".for", Message: "router source must be a string", Pos: fv.Pos()}
		}

		if pv := rv.LookupPath(cue.ParsePath("paths")); pv.Exists() {
			list, err := pv.List()
			if err != nil {
				return nil, &CompileError{Field: field + ".paths", Message: "paths must be a list of strings", Pos: pv.Pos()}
			}
			for list.Next() {
				p, err := list.Value().String()
				if err != nil {
					return nil, &CompileError{Field: field + ".paths", Message: "paths must be a list of strings", Pos: list.Value().Pos()}
				}
				r.Paths = append(r.Paths, p)
			}
		}

		if dv := rv.LookupPath(cue.ParsePath("default")); dv.Exists() {
			if r.Default, err = dv.String(); err != nil {
				return nil, &CompileError{Field: field + ".default", Message: "default must be a string", Pos: dv.Pos()}
			}
			if len(r.Paths) > 0 && !contains(r.Paths, r.Default) {
				return nil, &CompileError{
					Field:   field + ".default",
					Message: fmt.Sprintf("default %q is not one of the declared paths", r.Default),
					Pos:     dv.Pos(),
				}
			}
		}

		routers = append(routers, r)
	}
	return routers, nil
}

// parseListen accepts a single condition or a list of conditions.
func parseListen(v cue.Value) ([]trigger.Condition, error) {
	if v.IncompleteKind() == cue.ListKind {
		list, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var conds []trigger.Condition
		for list.Next() {
			c, err := parseCondition(list.Value())
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		if len(conds) == 0 {
			return nil, &CompileError{Field: "listen", Message: "listen list is empty", Pos: v.Pos()}
		}
		return conds, nil
	}

	c, err := parseCondition(v)
	if err != nil {
		return nil, err
	}
	return []trigger.Condition{c}, nil
}

// parseCondition parses "name", {or: [...]} or {and: [...]}.
func parseCondition(v cue.Value) (trigger.Condition, error) {
	if s, err := v.String(); err == nil {
		c, err := trigger.Or(s)
		if err != nil {
			return trigger.Condition{}, &CompileError{Field: "listen", Message: err.Error(), Pos: v.Pos()}
		}
		return c, nil
	}

	orVal := v.LookupPath(cue.ParsePath("or"))
	andVal := v.LookupPath(cue.ParsePath("and"))
	switch {
	case orVal.Exists() && andVal.Exists():
		return trigger.Condition{}, &CompileError{Field: "listen", Message: "a condition has either or or and, not both", Pos: v.Pos()}
	case orVal.Exists():
		args, err := parseMembers(orVal)
		if err != nil {
			return trigger.Condition{}, err
		}
		return wrapTrigger(trigger.Or(args...))(orVal)
	case andVal.Exists():
		args, err := parseMembers(andVal)
		if err != nil {
			return trigger.Condition{}, err
		}
		return wrapTrigger(trigger.And(args...))(andVal)
	default:
		return trigger.Condition{}, &CompileError{
			Field:   "listen",
			Message: "condition must be a node name, {or: [...]} or {and: [...]}",
			Pos:     v.Pos(),
		}
	}
}

func parseMembers(v cue.Value) ([]any, error) {
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "listen", Message: "or/and takes a list", Pos: v.Pos()}
	}
	var args []any
	for list.Next() {
		c, err := parseCondition(list.Value())
		if err != nil {
			return nil, err
		}
		args = append(args, c)
	}
	return args, nil
}

func wrapTrigger(c trigger.Condition, err error) func(cue.Value) (trigger.Condition, error) {
	return func(v cue.Value) (trigger.Condition, error) {
		if err != nil {
			return trigger.Condition{}, &CompileError{Field: "listen", Message: err.Error(), Pos: v.Pos()}
		}
		return c, nil
	}
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: field + " must be a bool", Pos: fv.Pos()}
	}
	return b, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
