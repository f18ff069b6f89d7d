// Package harness runs flow scenarios against the dispatch engine.
//
// A scenario bundles a CUE flow, scripted node and router behaviors, and
// the outcome the run must produce. The flow is compiled, bound with the
// scripted behaviors, executed once by a real engine, and checked.
//
// # Scenario Format
//
//	name: even_odd
//	description: "router picks the parity path"
//	run_id: even-odd-run
//	max_steps: 0
//	flow: |
//	  flow: EvenOdd: {
//	    node: seed: start: true
//	    node: double: { listen: "seed", input: true }
//	    router: parity: { for: "double", paths: ["even", "odd"] }
//	    node: onEven: { listen: "even", input: true }
//	    node: onOdd: listen: "odd"
//	  }
//	nodes:
//	  seed: { returns: 3 }
//	  double: { multiply: 2 }
//	routers:
//	  parity:
//	    route: { of: double, mod: 2 }
//	    cases: { "0": even, "1": odd }
//	expect:
//	  counts: { seed: 1, double: 1, parity: 1, onEven: 1 }
//	  received: { onEven: [6] }
//	  not_run: [onOdd]
//
// # Behaviors
//
// Every node stores its output in the untyped run state under its own
// name. A node without a behavior echoes its input when it takes one and
// otherwise returns its name.
//
//   - returns: fixed output
//   - echo: return the input
//   - multiply: integer input times N
//   - counter: return how many times the node has run (1, 2, ...)
//   - fail: return an error with this message
//   - panic: panic with this message
//
// A router looks up route.of in the state, optionally reduces an integer
// with mod, and maps the printed value through cases; unmatched values
// take default. A router without a behavior takes its declared default or
// first path.
//
// # Expectations
//
//   - counts: exact invocation counts; unlisted nodes are not checked
//   - received: inputs per node, compared as a multiset
//   - failed: exactly the nodes that failed
//   - not_run: nodes that must never be invoked
//   - exceeded: nodes refused by max_steps
//
// Golden snapshots (RunWithGolden) store the canonical JSON of the run
// outcome under testdata/golden. Regenerate them with:
//
//	go test ./internal/harness -update
package harness
