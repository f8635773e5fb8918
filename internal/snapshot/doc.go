// Package snapshot implements the Snapshot Store: durable per-entity
// persistence of an actor's last known state. The redis implementation is
// the production store; the memory implementation backs tests and
// single-process development.
package snapshot
