package manager

import "time"

// Event represents a manager lifecycle event.
// Minimal and stable: name + adapter ID and optional fields via key/values.
type Event struct {
	Name      string
	AdapterID string
	Fields    map[string]any
	At        time.Time
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
