// Package engine executes a graph.Graph.
//
// EXECUTION PROTOCOL:
//
// Entry phase:
// Entry nodes run one at a time in declaration order. An entry node and
// everything its completion triggers must finish before the next entry
// node starts.
//
// Completion:
// When a node finishes, its router (if any) runs first and the returned
// path replaces the node's name as the trigger identity. The listener
// table is then walked in declaration order:
//   - OR rows fire when the trigger is a member
//   - AND rows record the trigger; once every member has been recorded the
//     row fires and its record is cleared
//
// Rows that fire form a wave. Every listener of a wave runs in its own
// goroutine and the completion waits for the whole wave, including each
// listener's own propagation, before returning.
//
// Failure isolation:
// A body that returns an error or panics produces a NodeExecutionError. It
// is logged with the stack, recorded in the Report, and the node does not
// propagate. Siblings and the rest of the run continue. Router failures and
// undeclared router paths are handled the same way.
//
// CONCURRENCY:
//
// Per-run bookkeeping (completed set, AND records, counts, failures) is
// guarded by one mutex that is never held while a body runs. State passed
// to bodies is shared by every goroutine of the run; see package state for
// what that means for each mode, and WithSerializedNodes for a
// single-writer alternative.
//
// The engine passes ctx to every body but never cancels scheduling itself.
package engine
