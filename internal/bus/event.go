package bus

import "time"

// Event represents a domain event published on the bus.
//
// Store backends publish "doc.changed" events with Path set to the mutated
// document's path; lifecycle components publish "session.*" and "outbox.*"
// events with a typed Payload.
type Event struct {
	Kind      string
	Path      string
	Timestamp time.Time
	Payload   any
}
