// Package loader orchestrates the fetch-transform-load cycle from the
// Eventbrite API into the warehouse. Execution is fully sequential: one
// outstanding API request, one outstanding database statement, with
// fixed pauses to stay under the remote rate limit.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencivic/eventbrite-warehouse/internal/eventbrite"
	"github.com/opencivic/eventbrite-warehouse/internal/warehouse"
)

// Store is the warehouse surface the loader writes through.
type Store interface {
	LoadItem(ctx context.Context, record warehouse.Record, table string) error
	DeleteItem(ctx context.Context, table, id string, secondary warehouse.Record) error
	GetItem(ctx context.Context, table, id string, secondary warehouse.Record) (warehouse.Record, error)
	LastEventLoadDate(ctx context.Context) (time.Time, bool, error)
	RefreshViews(ctx context.Context) error
}

// API is the Eventbrite surface the loader reads from. A nil result with
// a nil error means the API returned a non-success status, which the
// loader treats as a rate-limit signal.
type API interface {
	GetEvents(ctx context.Context, orgID, start string, page int) (*eventbrite.EventsPage, error)
	GetAttendees(ctx context.Context, eventID string, page int) (*eventbrite.AttendeesPage, error)
	GetVenue(ctx context.Context, venueID string) (map[string]any, error)
	GetOrder(ctx context.Context, orderID string) (map[string]any, error)
}

// Loader runs the ingestion job.
type Loader struct {
	store Store
	api   API
	orgID string
	log   *slog.Logger

	// Injected clock and sleep so tests can simulate time.
	now   func() time.Time
	sleep func(time.Duration)

	eventPause     time.Duration
	rateLimitPause time.Duration

	progress progress
}

// New returns a loader with the production pauses: 60s after each event,
// one hour when the rate limit is hit.
func New(store Store, api API, orgID string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		store:          store,
		api:            api,
		orgID:          orgID,
		log:            log,
		now:            time.Now,
		sleep:          time.Sleep,
		eventPause:     60 * time.Second,
		rateLimitPause: time.Hour,
	}
}

// Progress returns a snapshot of the current run's counters.
func (l *Loader) Progress() Snapshot {
	return l.progress.snapshot()
}

// Run executes one load: incremental event pages, each event's venue and
// attendees, then a refresh of every materialized view. A run with no
// events in range exits without refreshing views.
func (l *Loader) Run(ctx context.Context) error {
	l.progress.update(func(s *Snapshot) { s.StartedAt = l.now().UTC() })

	start := ""
	last, ok, err := l.store.LastEventLoadDate(ctx)
	if err != nil {
		return fmt.Errorf("last event load date: %w", err)
	}
	if ok {
		// Re-process at least the trailing day; delete-then-insert makes
		// the overlap idempotent.
		first := l.now().Add(-24 * time.Hour)
		if last.Before(first) {
			first = last
		}
		start = first.Format("2006-01-02")
		l.log.Info("loading events", "start", start)
	} else {
		l.log.Info("loading events from the first available event")
	}

	page, err := l.fetchEvents(ctx, start, 1)
	if err != nil {
		return err
	}

	if page.Pagination.ObjectCount == 0 {
		l.log.Info("no events to process, exiting")
		return nil
	}
	l.log.Info("events to process", "count", page.Pagination.ObjectCount)

	for {
		for _, raw := range page.Events {
			if raw == nil {
				continue
			}
			if err := l.processEvent(ctx, raw); err != nil {
				return err
			}
			// Stay under the Eventbrite rate limit.
			l.sleep(l.eventPause)
		}

		if !page.Pagination.HasMoreItems {
			break
		}
		next := page.Pagination.PageNumber + 1
		l.log.Info("pulling events page", "page", next)
		page, err = l.fetchEvents(ctx, start, next)
		if err != nil {
			return err
		}
	}

	return l.store.RefreshViews(ctx)
}

// processEvent replaces the event row, loads its venue if unseen, and
// replaces every attendee row.
func (l *Loader) processEvent(ctx context.Context, raw map[string]any) error {
	eventID, err := stringField(raw, "id")
	if err != nil {
		return fmt.Errorf("event: %w", err)
	}
	name, err := nested(raw, "name", "text")
	if err != nil {
		return fmt.Errorf("event %s: %w", eventID, err)
	}
	l.log.Info("loading event", "event", name)
	l.progress.update(func(s *Snapshot) { s.CurrentEvent = optionalString(name) })

	// Delete the current row first to maintain the unique index on id.
	if err := l.store.DeleteItem(ctx, "events", eventID, nil); err != nil {
		return err
	}
	record, err := TransformEvent(raw, l.now())
	if err != nil {
		return err
	}
	if err := l.store.LoadItem(ctx, record, "events"); err != nil {
		return err
	}
	l.progress.update(func(s *Snapshot) { s.EventsLoaded++ })

	if venueID := optionalString(raw["venue_id"]); venueID != "" {
		if err := l.loadVenueOnce(ctx, venueID); err != nil {
			return err
		}
	}

	return l.loadAttendees(ctx, eventID)
}

// loadVenueOnce loads a venue only when no row with its id exists yet.
func (l *Loader) loadVenueOnce(ctx context.Context, venueID string) error {
	existing, err := l.store.GetItem(ctx, "venues", venueID, nil)
	if err != nil || existing != nil {
		return err
	}

	venue, err := l.fetchVenue(ctx, venueID)
	if err != nil {
		return err
	}
	record, err := TransformVenue(venue, l.now())
	if err != nil {
		return err
	}
	if err := l.store.LoadItem(ctx, record, "venues"); err != nil {
		return err
	}
	l.progress.update(func(s *Snapshot) { s.VenuesLoaded++ })
	return nil
}

// loadAttendees paginates through an event's attendees, replacing each
// row keyed by (id, event_id).
func (l *Loader) loadAttendees(ctx context.Context, eventID string) error {
	page, err := l.fetchAttendees(ctx, eventID, 1)
	if err != nil {
		return err
	}

	for {
		for _, raw := range page.Attendees {
			if raw == nil {
				continue
			}
			attendeeID, err := stringField(raw, "id")
			if err != nil {
				return fmt.Errorf("attendee: %w", err)
			}
			record, err := TransformAttendee(raw, l.now())
			if err != nil {
				return err
			}
			err = l.store.DeleteItem(ctx, "attendees", attendeeID,
				warehouse.Record{"event_id": eventID})
			if err != nil {
				return err
			}
			if err := l.store.LoadItem(ctx, record, "attendees"); err != nil {
				return err
			}
			l.progress.update(func(s *Snapshot) { s.AttendeesLoaded++ })
		}

		if !page.Pagination.HasMoreItems {
			return nil
		}
		page, err = l.fetchAttendees(ctx, eventID, page.Pagination.PageNumber+1)
		if err != nil {
			return err
		}
	}
}

// LoadOrder fetches a single order and replaces its row. Orders get the
// same delete-then-insert policy as events and attendees so reloading a
// window stays idempotent.
func (l *Loader) LoadOrder(ctx context.Context, orderID string) error {
	order, err := l.fetchOrder(ctx, orderID)
	if err != nil {
		return err
	}
	record, err := TransformOrder(order, l.now())
	if err != nil {
		return err
	}
	if err := l.store.DeleteItem(ctx, "orders", orderID, nil); err != nil {
		return err
	}
	if err := l.store.LoadItem(ctx, record, "orders"); err != nil {
		return err
	}
	l.progress.update(func(s *Snapshot) { s.OrdersLoaded++ })
	return nil
}

// pauseForRateLimit sleeps through a presumed rate-limit window before
// the single retry each fetch gets.
func (l *Loader) pauseForRateLimit(resource string) {
	l.log.Warn("rate limit exceeded, pausing", "resource", resource,
		"pause", l.rateLimitPause)
	l.progress.update(func(s *Snapshot) { s.RateLimitPauses++ })
	l.sleep(l.rateLimitPause)
}

// fetchEvents pulls one events page, pausing and retrying exactly once
// when the API reports no data.
func (l *Loader) fetchEvents(ctx context.Context, start string, page int) (*eventbrite.EventsPage, error) {
	p, err := l.api.GetEvents(ctx, l.orgID, start, page)
	if err != nil {
		return nil, err
	}
	if p == nil {
		l.pauseForRateLimit("events")
		p, err = l.api.GetEvents(ctx, l.orgID, start, page)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("events page %d unavailable after rate limit pause", page)
		}
	}
	l.progress.update(func(s *Snapshot) { s.EventPages++ })
	return p, nil
}

// fetchAttendees pulls one attendees page with the same single retry.
func (l *Loader) fetchAttendees(ctx context.Context, eventID string, page int) (*eventbrite.AttendeesPage, error) {
	p, err := l.api.GetAttendees(ctx, eventID, page)
	if err != nil {
		return nil, err
	}
	if p == nil {
		l.pauseForRateLimit("attendees")
		p, err = l.api.GetAttendees(ctx, eventID, page)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("attendees page %d for event %s unavailable after rate limit pause", page, eventID)
		}
	}
	l.progress.update(func(s *Snapshot) { s.AttendeePages++ })
	return p, nil
}

// fetchVenue pulls a venue with the same single retry.
func (l *Loader) fetchVenue(ctx context.Context, venueID string) (map[string]any, error) {
	v, err := l.api.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		l.pauseForRateLimit("venue")
		v, err = l.api.GetVenue(ctx, venueID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("venue %s unavailable after rate limit pause", venueID)
		}
	}
	l.progress.update(func(s *Snapshot) { s.VenueFetches++ })
	return v, nil
}

// fetchOrder pulls an order with the same single retry.
func (l *Loader) fetchOrder(ctx context.Context, orderID string) (map[string]any, error) {
	o, err := l.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		l.pauseForRateLimit("order")
		o, err = l.api.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("order %s unavailable after rate limit pause", orderID)
		}
	}
	l.progress.update(func(s *Snapshot) { s.OrderFetches++ })
	return o, nil
}
