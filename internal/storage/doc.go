// Package storage persists the relay's durable state in one sqlite file:
//
//   - live channel memberships plus their append-only history
//   - the append-only send audit log
//   - permission users and access requests
//
// Every mutation of the live channel table writes exactly one matching
// history row in the same transaction; the history is a complete replay
// log of the live view.
package storage
