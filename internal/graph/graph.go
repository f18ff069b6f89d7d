// Package graph registers nodes and the trigger conditions that wire them.
//
// A Builder collects declarations; Build validates them and freezes the
// result into a Graph. A Graph is read-only and may be shared by any number
// of concurrent engine runs.
//
//	g, err := graph.NewBuilder("pipeline").
//		Start("fetch", graph.Func(fetch)).
//		Listen("double", "fetch", graph.FuncWithInput(double)).
//		Listen("report", trigger.MustAnd("fetch", "double"), graph.Func(report)).
//		Build()
package graph

import (
	"github.com/roach88/wavefront/internal/canonical"
	"github.com/roach88/wavefront/internal/state"
)

// Graph is the immutable product of Builder.Build.
type Graph struct {
	name        string
	shape       state.Shape
	nodes       map[string]*Node
	order       []string
	entries     []string
	listeners   []Listener
	routerFor   map[string]*Node
	fingerprint string
}

// Name returns the graph name given to NewBuilder.
func (g *Graph) Name() string { return g.name }

// StateShape returns the state mode selected at registration.
func (g *Graph) StateShape() state.Shape { return g.shape }

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, name := range g.order {
		out[i] = g.nodes[name]
	}
	return out
}

// Entries returns entry node names in declaration order.
func (g *Graph) Entries() []string {
	return append([]string(nil), g.entries...)
}

// Listeners returns the listener table in declaration order.
func (g *Graph) Listeners() []Listener {
	return append([]Listener(nil), g.listeners...)
}

// RouterFor returns the router registered for source, if any.
func (g *Graph) RouterFor(source string) (*Node, bool) {
	r, ok := g.routerFor[source]
	return r, ok
}

// Fingerprint is a stable content hash of the topology. Two graphs with
// the same declarations in the same order share a fingerprint; bodies are
// not part of it.
func (g *Graph) Fingerprint() string { return g.fingerprint }

// Topology is a serializable description of a graph.
type Topology struct {
	Name        string         `json:"name"`
	State       string         `json:"state"`
	Fingerprint string         `json:"fingerprint"`
	Entries     []string       `json:"entries"`
	Nodes       []NodeTopology `json:"nodes"`
}

// NodeTopology describes one node.
type NodeTopology struct {
	Name       string   `json:"name"`
	Entry      bool     `json:"entry,omitempty"`
	Input      bool     `json:"input,omitempty"`
	RouterFor  string   `json:"router_for,omitempty"`
	Paths      []string `json:"paths,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// Describe returns the graph's topology.
func (g *Graph) Describe() Topology {
	t := Topology{
		Name:        g.name,
		State:       g.shape.TypeName(),
		Fingerprint: g.fingerprint,
		Entries:     g.Entries(),
	}
	for _, n := range g.Nodes() {
		nt := NodeTopology{
			Name:      n.name,
			Entry:     n.entry,
			Input:     n.body.takesInput,
			RouterFor: n.routerFor,
			Paths:     n.Paths(),
		}
		for _, c := range n.conditions {
			nt.Conditions = append(nt.Conditions, c.String())
		}
		t.Nodes = append(t.Nodes, nt)
	}
	return t
}

func fingerprint(g *Graph) (string, error) {
	nodes := make([]any, 0, len(g.order))
	for _, name := range g.order {
		n := g.nodes[name]
		conds := make([]any, 0, len(n.conditions))
		for _, c := range n.conditions {
			conds = append(conds, map[string]any{
				"kind":    string(c.Kind),
				"methods": c.Methods,
			})
		}
		nodes = append(nodes, map[string]any{
			"name":       n.name,
			"entry":      n.entry,
			"input":      n.body.takesInput,
			"router_for": n.routerFor,
			"paths":      append([]string{}, n.paths...),
			"conditions": conds,
		})
	}
	return canonical.Hash(canonical.DomainGraph, map[string]any{
		"name":  g.name,
		"state": g.shape.TypeName(),
		"nodes": nodes,
	})
}
