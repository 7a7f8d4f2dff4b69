// Package engine holds the state transition logic: pure rules that turn
// a device's previous record plus an incoming report into an updated
// record and zero or more graded events, and the orchestration that
// persists the result, records telemetry history, and commands alarm
// relays.
//
// The rules (rules.go) are pure functions with no I/O so they can be
// tested exhaustively. The Engine wraps them with registry access, the
// event bus, and the alarm commander; it guarantees the registry write
// happens before any event publication, and applies all-settled
// semantics to every batch operation.
package engine
