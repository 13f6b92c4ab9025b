package relay

// Event is one narrated kill/death. Never mutated after creation.
type Event struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Victim    string   `json:"victim"`
	Killer    string   `json:"killer,omitempty"`
	Method    string   `json:"method,omitempty"`
	Category  Category `json:"category"`
	Timestamp int64    `json:"timestamp"` // Unix ms
}

// EventInput is the raw kill/death report from the producer.
type EventInput struct {
	Victim string
	Killer string
	Method string
}

// feed is a bounded most-recent-first event list. Guarded by the tenant lock.
type feed struct {
	capacity int
	events   []Event
}

func newFeed(capacity int) *feed {
	if capacity <= 0 {
		capacity = 20
	}
	return &feed{capacity: capacity, events: make([]Event, 0, capacity)}
}

// push puts e at the front and silently drops whatever falls past capacity.
func (f *feed) push(e Event) {
	if len(f.events) < f.capacity {
		f.events = append(f.events, Event{})
	}
	copy(f.events[1:], f.events[:len(f.events)-1])
	f.events[0] = e
}

// snapshot returns a copy, newest first.
func (f *feed) snapshot() []Event {
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}
