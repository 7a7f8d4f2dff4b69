// Package eventlog persists the audit trail: raised events of every
// severity and the structured log batches field devices upload over
// HTTP. It is the durable half of the fan-out: the bus gives
// at-most-once delivery, the store writes synchronously per event.
package eventlog
