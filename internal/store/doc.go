// Package store keeps a SQLite-backed history of translations.
//
// Each row records the source and target dialects, the query text and its
// SHA-256 hash, the output or the error, and the detector confidence when
// the source dialect was detected. Rows are append-only. Record IDs are
// KSUIDs; listing order uses the seq column so records written in the same
// second still come back in insertion order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
