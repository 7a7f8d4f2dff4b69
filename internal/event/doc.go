// Package event defines the graded event model and the in-process bus
// that fans events out to consumers (audit log, notification bridge,
// websocket push).
//
// Events are graded info, warning, or critical. Every event reaches
// every consumer; consumers apply their own severity filters (the
// notification bridge forwards only warning and critical, the audit
// log keeps everything).
//
// The bus is deliberately lossy under overload: Publish never blocks,
// so a stalled sink cannot back up into state reporting. Drops are
// counted and logged.
package event
