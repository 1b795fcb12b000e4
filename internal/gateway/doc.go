// Package gateway owns live client connections, the per-connection
// authentication state machine, and room membership.
//
// All mutable state lives inside a single hub goroutine driven by a command
// channel; handlers never preempt each other. Per-connection writer
// goroutines serialize outbound frames and heartbeat pings. Once a
// coordinator is attached, room broadcasts become instance-transparent.
package gateway
