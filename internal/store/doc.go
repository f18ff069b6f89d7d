// Package store provides the SQLite-backed chunk index behind the
// knowledge subsystem.
//
// Each chunk is a piece of source text with its embedding vector and a
// flat string metadata map. Search scores every candidate chunk by cosine
// similarity in Go; SQLite only narrows the candidates by metadata filter
// and vector dimension.
//
// # Identity and Ordering
//
//   - chunk IDs are content hashes of (source, content), so re-adding the
//     same text is a no-op
//   - seq is a logical insertion counter, NEVER a timestamp
//   - ties in score are broken by seq ASC, then id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
