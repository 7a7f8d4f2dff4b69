package event

import "time"

// Severity grades an event for routing. Informational events are kept
// for the audit trail only; warning and critical events are forwarded
// to external notification channels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognised severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Notifiable reports whether events of this severity are forwarded to
// external channels in addition to being logged.
func (s Severity) Notifiable() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Event is a single graded occurrence in the system: a door opening,
// a device failing to respond, an unknown host probing the network.
type Event struct {
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	SourceSystem string    `json:"source_system"`
	Timestamp    time.Time `json:"timestamp"`
}

// New builds an event stamped with the current time.
func New(severity Severity, source, message string) Event {
	return Event{
		Severity:     severity,
		Message:      message,
		SourceSystem: source,
		Timestamp:    time.Now().UTC(),
	}
}
