// Package domain contains the core types shared across the runtime:
// snapshots, alerts, preferences, and the collaborator interfaces the
// actors depend on. It has no dependencies on transport or storage.
package domain
