package compiler

import (
	"context"

	"github.com/roach88/wavefront/internal/graph"
	"github.com/roach88/wavefront/internal/state"
)

// Catalog maps declared names to Go implementations.
type Catalog struct {
	Bodies  map[string]graph.Body
	Routers map[string]graph.RouterFunc
	// States maps the flow's state name to a shape. "untyped" needs no
	// entry.
	States map[string]state.Shape
}

// Fallback supplies implementations for names missing from a Catalog.
// Either field may be nil.
type Fallback struct {
	Body   func(NodeSpec) graph.Body
	Router func(RouterSpec) graph.RouterFunc
}

// DryRun returns a Fallback that lets any flow execute without Go code:
// a node with input echoes it, any other node returns its own name, and a
// router returns its default (or its first path).
func DryRun() Fallback {
	return Fallback{
		Body: func(n NodeSpec) graph.Body {
			if n.Input {
				return graph.FuncWithInput(func(_ context.Context, _ *state.State, in any) (any, error) {
					return in, nil
				})
			}
			name := n.Name
			return graph.Func(func(context.Context, *state.State) (any, error) {
				return name, nil
			})
		},
		Router: func(r RouterSpec) graph.RouterFunc {
			path := r.Default
			if path == "" && len(r.Paths) > 0 {
				path = r.Paths[0]
			}
			return func(context.Context, *state.State) (string, error) {
				return path, nil
			}
		},
	}
}

// Bind resolves every declared name against cat (then fallback) and returns
// a builder ready for Build. Structural checks such as unknown condition
// members are left to Build.
func (f *FlowSpec) Bind(cat Catalog, fallback Fallback) (*graph.Builder, error) {
	b := graph.NewBuilder(f.Name)

	if f.State != "" && f.State != StateUntyped {
		shape, ok := cat.States[f.State]
		if !ok {
			return nil, &MissingImplementationError{Flow: f.Name, Name: f.State, Kind: "state"}
		}
		b.WithState(shape)
	}

	for _, n := range f.Nodes {
		body, ok := cat.Bodies[n.Name]
		if !ok {
			if fallback.Body == nil {
				return nil, &MissingImplementationError{Flow: f.Name, Name: n.Name, Kind: "node"}
			}
			body = fallback.Body(n)
		}

		if n.Start {
			var opts []graph.NodeOption
			for _, c := range n.Conditions {
				opts = append(opts, graph.When(c))
			}
			b.Start(n.Name, body, opts...)
			continue
		}

		var opts []graph.NodeOption
		for _, c := range n.Conditions[1:] {
			opts = append(opts, graph.When(c))
		}
		b.Listen(n.Name, n.Conditions[0], body, opts...)
	}

	for _, r := range f.Routers {
		fn, ok := cat.Routers[r.Name]
		if !ok {
			if fallback.Router == nil {
				return nil, &MissingImplementationError{Flow: f.Name, Name: r.Name, Kind: "router"}
			}
			fn = fallback.Router(r)
		}
		b.Router(r.Name, r.For, fn, r.Paths...)
	}

	return b, nil
}
