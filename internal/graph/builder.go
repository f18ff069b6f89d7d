package graph

import (
	"fmt"

	"github.com/roach88/wavefront/internal/state"
	"github.com/roach88/wavefront/internal/trigger"
)

type declKind int

const (
	declStart declKind = iota
	declListen
	declRouter
)

// decl is one raw registration call. Conditions stay unconverted until Build
// so that every error is reported at the same point.
type decl struct {
	kind     declKind
	name     string
	body     Body
	routerFn RouterFunc
	source   string
	paths    []string
	conds    []any
}

// Builder collects node declarations. It is not safe for concurrent use.
//
// Registration methods never fail; all validation happens in Build, before
// any run can start.
type Builder struct {
	name  string
	shape state.Shape
	decls []decl
}

// NodeOption customizes a Start or Listen declaration.
type NodeOption func(*decl)

// When attaches an additional trigger condition. On an entry node it makes
// the node re-fire later as a listener; on a listener it adds a further
// independent condition.
func When(cond any) NodeOption {
	return func(d *decl) {
		d.conds = append(d.conds, cond)
	}
}

// NewBuilder starts a graph with untyped state.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, shape: state.Untyped()}
}

// WithState selects how each run's state is constructed.
func (b *Builder) WithState(shape state.Shape) *Builder {
	b.shape = shape
	return b
}

// Start declares an entry node.
func (b *Builder) Start(name string, body Body, opts ...NodeOption) *Builder {
	d := decl{kind: declStart, name: name, body: body}
	for _, opt := range opts {
		opt(&d)
	}
	b.decls = append(b.decls, d)
	return b
}

// Listen declares a listener triggered by cond, which accepts anything
// trigger.From accepts.
func (b *Builder) Listen(name string, cond any, body Body, opts ...NodeOption) *Builder {
	d := decl{kind: declListen, name: name, body: body, conds: []any{cond}}
	for _, opt := range opts {
		opt(&d)
	}
	b.decls = append(b.decls, d)
	return b
}

// Router declares a router for source. paths become legal names in trigger
// conditions; when non-empty the router must return one of them.
func (b *Builder) Router(name, source string, fn RouterFunc, paths ...string) *Builder {
	b.decls = append(b.decls, decl{
		kind:     declRouter,
		name:     name,
		routerFn: fn,
		source:   source,
		paths:    paths,
	})
	return b
}

// Build validates the declarations and returns the immutable graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		name:      b.name,
		shape:     b.shape,
		nodes:     make(map[string]*Node, len(b.decls)),
		routerFor: make(map[string]*Node),
	}

	// Pass 1: names, bodies, conditions.
	for _, d := range b.decls {
		name := trigger.Normalize(d.name)
		if name == "" {
			return nil, &InvalidNodeError{Name: d.name, Reason: "name is empty"}
		}
		if _, dup := g.nodes[name]; dup {
			return nil, &DuplicateNodeError{Name: name}
		}

		n := &Node{name: name, entry: d.kind == declStart}
		switch d.kind {
		case declRouter:
			if d.routerFn == nil {
				return nil, &InvalidNodeError{Name: name, Reason: "router function is nil"}
			}
			n.router = true
			n.routerFn = d.routerFn
			n.routerFor = trigger.Normalize(d.source)
			paths, err := normalizePaths(name, d.paths)
			if err != nil {
				return nil, err
			}
			n.paths = paths
		default:
			if d.body.fn == nil {
				return nil, &InvalidNodeError{Name: name, Reason: "body is nil"}
			}
			n.body = d.body
		}

		for _, raw := range d.conds {
			c, err := trigger.From(raw)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", name, err)
			}
			n.conditions = append(n.conditions, c)
		}

		g.nodes[name] = n
		g.order = append(g.order, name)
	}

	// Pass 2: routers. Paths are collected here so that conditions may
	// reference them regardless of declaration order.
	paths := make(map[string]bool)
	for _, name := range g.order {
		n := g.nodes[name]
		if !n.router {
			continue
		}
		src, ok := g.nodes[n.routerFor]
		if !ok || src.router {
			return nil, &UnknownNodeError{Node: name, Ref: n.routerFor, Context: "router source"}
		}
		if existing, dup := g.routerFor[n.routerFor]; dup {
			return nil, &DuplicateRouterError{Source: n.routerFor, Existing: existing.name, Router: name}
		}
		g.routerFor[n.routerFor] = n
		for _, p := range n.paths {
			paths[p] = true
		}
	}

	// Pass 3: every condition member must resolve.
	for _, name := range g.order {
		n := g.nodes[name]
		for _, c := range n.conditions {
			for _, m := range c.Methods {
				if _, ok := g.nodes[m]; ok || paths[m] {
					continue
				}
				return nil, &UnknownNodeError{Node: name, Ref: m, Context: "condition"}
			}
			g.listeners = append(g.listeners, Listener{
				Node:      name,
				Condition: c,
				Index:     len(g.listeners),
			})
		}
		if n.entry {
			g.entries = append(g.entries, name)
		}
	}

	fp, err := fingerprint(g)
	if err != nil {
		return nil, fmt.Errorf("fingerprint graph %q: %w", b.name, err)
	}
	g.fingerprint = fp
	return g, nil
}

func normalizePaths(router string, raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, p := range raw {
		p = trigger.Normalize(p)
		if p == "" {
			return nil, &InvalidNodeError{Name: router, Reason: "router path is empty"}
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
