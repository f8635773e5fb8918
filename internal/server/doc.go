// Package server is the HTTP and WebSocket edge of the runtime. It routes
// socket upgrades to the actor directory, exposes a small JSON API for
// snapshots and alert preferences, and serves health and metrics endpoints.
package server
