package manager

import "sync"

// MemoryPublisher keeps published events in memory. With Max set it is the
// bounded recent-events buffer that Status reports.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	// Max caps retained events (oldest dropped); 0 keeps everything.
	Max int
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// NewRecentEvents returns a MemoryPublisher retaining the last n events.
func NewRecentEvents(n int) *MemoryPublisher { return &MemoryPublisher{Max: n} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	if p.Max > 0 && len(p.events) > p.Max {
		p.events = append([]Event(nil), p.events[len(p.events)-p.Max:]...)
	}
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns event names in publish order.
func (p *MemoryPublisher) Names() []string {
	evts := p.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Name
	}
	return out
}
