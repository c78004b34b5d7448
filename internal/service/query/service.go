// Package query is the read side: event listings and summaries with derived
// statuses, plus booking reads with ownership checks. Event reads go through
// the Redis cache; everything here is side-effect free except the lazy,
// best-effort persistence of a derived event status.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/repository"
	redisrepo "github.com/isachinpnr/eventease/internal/repository/redis"
	"github.com/isachinpnr/eventease/internal/service/booking"
)

const (
	summaryTTL = 30 * time.Second
	listTTL    = 15 * time.Second

	// Completed events stay visible in a user's booking list for a grace
	// period before they drop out.
	completedGrace = time.Hour
)

type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error
}

type BookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListConfirmedByUser(ctx context.Context, userID uuid.UUID) ([]domain.BookingWithEvent, error)
}

type Service struct {
	events   EventStore
	bookings BookingStore
	cache    *redisrepo.Cache
	logger   *slog.Logger
}

func New(events EventStore, bookings BookingStore, cache *redisrepo.Cache, logger *slog.Logger) *Service {
	return &Service{events: events, bookings: bookings, cache: cache, logger: logger}
}

// EventSummary is the public event view: the stored record plus the derived
// status and remaining seats.
type EventSummary struct {
	domain.Event
	AvailableSeats int `json:"availableSeats"`
}

func (s *Service) summarize(ctx context.Context, e domain.Event) EventSummary {
	derived := domain.DeriveEventStatus(e.Date, e.Time, time.Now())
	if derived != e.Status {
		// Lazy persistence; reads never fail on it.
		if err := s.events.UpdateStatus(ctx, e.ID, derived); err != nil {
			s.logger.Warn("failed to persist derived event status", "event_id", e.ID, "error", err)
		}
		e.Status = derived
	}

	avail := e.Capacity - e.BookedSeats
	if avail < 0 {
		avail = 0
	}

	return EventSummary{Event: e, AvailableSeats: avail}
}

// GetEvent returns a single event summary, cached briefly.
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*EventSummary, error) {
	const op = "service.query.GetEvent"

	load := func(ctx context.Context) (EventSummary, error) {
		e, err := s.events.GetEvent(ctx, id)
		if err != nil {
			return EventSummary{}, err
		}
		return s.summarize(ctx, *e), nil
	}

	var (
		sum EventSummary
		err error
	)
	if s.cache != nil {
		sum, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventSummary(id.String()), summaryTTL, load)
	} else {
		sum, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, booking.ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &sum, nil
}

// ListEvents returns a page of event summaries, cached briefly per page.
func (s *Service) ListEvents(ctx context.Context, limit, offset int) ([]EventSummary, error) {
	const op = "service.query.ListEvents"

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	load := func(ctx context.Context) ([]EventSummary, error) {
		events, err := s.events.ListEvents(ctx, limit, offset)
		if err != nil {
			return nil, err
		}

		out := make([]EventSummary, 0, len(events))
		for _, e := range events {
			out = append(out, s.summarize(ctx, e))
		}
		return out, nil
	}

	var (
		out []EventSummary
		err error
	)
	if s.cache != nil {
		out, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventList(limit, offset), listTTL, load)
	} else {
		out, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// GetBooking returns a booking visible to its owner or to an admin.
func (s *Service) GetBooking(ctx context.Context, callerID uuid.UUID, isAdmin bool, bookingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.query.GetBooking"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, booking.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !isAdmin && b.UserID != callerID {
		return nil, fmt.Errorf("%s: %w", op, booking.ErrNotOwner)
	}

	return b, nil
}

// ListUserBookings returns the caller's Confirmed bookings with their events,
// dropping events that completed more than an hour ago. Event statuses in
// the result are freshly derived.
func (s *Service) ListUserBookings(ctx context.Context, userID uuid.UUID) ([]domain.BookingWithEvent, error) {
	const op = "service.query.ListUserBookings"

	all, err := s.bookings.ListConfirmedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	out := make([]domain.BookingWithEvent, 0, len(all))
	for _, bwe := range all {
		e := bwe.Event
		end := domain.EventDateTime(e.Date, e.Time)
		if domain.DeriveEventStatus(e.Date, e.Time, now) == domain.EventCompleted &&
			now.Sub(end) > completedGrace {
			continue
		}

		bwe.Event.Status = domain.DeriveEventStatus(e.Date, e.Time, now)
		out = append(out, bwe)
	}

	return out, nil
}
