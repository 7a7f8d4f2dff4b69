// Package discovery implements how field devices join the network:
// a long-lived UDP listener that filters broadcast probes by service
// name, and single-shot TCP handshake sessions that authenticate
// probers against the device registry and issue the shared password.
//
// The device-facing protocols deliberately return nothing on failure.
// Probes with the wrong payload, handshake timeouts, and unknown
// identifiers all end in silence or a closed connection; a misbehaving
// or malicious device gets no diagnostic detail to work with.
package discovery
