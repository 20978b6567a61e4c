package loader

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a run's progress, served by the
// status endpoint and inspected by tests.
type Snapshot struct {
	StartedAt       time.Time `json:"started_at"`
	CurrentEvent    string    `json:"current_event,omitempty"`
	EventPages      int       `json:"event_pages"`
	AttendeePages   int       `json:"attendee_pages"`
	VenueFetches    int       `json:"venue_fetches"`
	OrderFetches    int       `json:"order_fetches"`
	EventsLoaded    int       `json:"events_loaded"`
	AttendeesLoaded int       `json:"attendees_loaded"`
	VenuesLoaded    int       `json:"venues_loaded"`
	OrdersLoaded    int       `json:"orders_loaded"`
	RateLimitPauses int       `json:"rate_limit_pauses"`
}

// progress tracks counters for one run. The run itself is sequential;
// the mutex only guards concurrent reads from the status server.
type progress struct {
	mu   sync.Mutex
	snap Snapshot
}

func (p *progress) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	p.mu.Unlock()
}

func (p *progress) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
