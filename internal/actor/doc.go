// Package actor implements the per-entity broadcast runtime: one event-loop
// goroutine per live entity (a game or a user's alert channel) that owns all
// of that entity's state, fans out updates to connected sessions under rate
// limiting, persists recoverable snapshots, and reclaims idle sessions on a
// self-rescheduling alarm. The Directory resolves entity ids to actors and
// evicts drained ones.
package actor
