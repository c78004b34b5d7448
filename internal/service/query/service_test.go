package query

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/repository"
	"github.com/isachinpnr/eventease/internal/service/booking"
)

type fakeEvents struct {
	events        map[uuid.UUID]*domain.Event
	statusUpdates map[uuid.UUID]domain.EventStatus
}

func (f *fakeEvents) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEvents) ListEvents(_ context.Context, limit, offset int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEvents) UpdateStatus(_ context.Context, id uuid.UUID, status domain.EventStatus) error {
	if f.statusUpdates == nil {
		f.statusUpdates = map[uuid.UUID]domain.EventStatus{}
	}
	f.statusUpdates[id] = status
	return nil
}

type fakeBookings struct {
	byID   map[uuid.UUID]*domain.Booking
	byUser map[uuid.UUID][]domain.BookingWithEvent
}

func (f *fakeBookings) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) ListConfirmedByUser(_ context.Context, userID uuid.UUID) ([]domain.BookingWithEvent, error) {
	return f.byUser[userID], nil
}

func newService(events *fakeEvents, bookings *fakeBookings) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(events, bookings, nil, logger)
}

func TestGetEvent_DerivesStatus(t *testing.T) {
	e := &domain.Event{
		ID:          uuid.New(),
		Title:       "Go Conf",
		Date:        time.Now().Add(-48 * time.Hour),
		Time:        "10:00",
		Capacity:    100,
		BookedSeats: 40,
		Status:      domain.EventUpcoming, // stale
	}
	events := &fakeEvents{events: map[uuid.UUID]*domain.Event{e.ID: e}}
	svc := newService(events, &fakeBookings{})

	sum, err := svc.GetEvent(context.Background(), e.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.EventCompleted, sum.Status)
	assert.Equal(t, 60, sum.AvailableSeats)
	assert.Equal(t, domain.EventCompleted, events.statusUpdates[e.ID], "derived status persisted lazily")
}

func TestGetEvent_NotFound(t *testing.T) {
	svc := newService(&fakeEvents{events: map[uuid.UUID]*domain.Event{}}, &fakeBookings{})

	_, err := svc.GetEvent(context.Background(), uuid.New())
	assert.ErrorIs(t, err, booking.ErrEventNotFound)
}

func TestGetEvent_FreshStatusNotRewritten(t *testing.T) {
	e := &domain.Event{
		ID:     uuid.New(),
		Date:   time.Now().Add(72 * time.Hour),
		Time:   "19:00",
		Status: domain.EventUpcoming,
	}
	events := &fakeEvents{events: map[uuid.UUID]*domain.Event{e.ID: e}}
	svc := newService(events, &fakeBookings{})

	_, err := svc.GetEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, events.statusUpdates)
}

func TestGetBooking_OwnerOrAdmin(t *testing.T) {
	owner := uuid.New()
	b := &domain.Booking{ID: uuid.New(), UserID: owner, Status: domain.BookingConfirmed}
	svc := newService(
		&fakeEvents{events: map[uuid.UUID]*domain.Event{}},
		&fakeBookings{byID: map[uuid.UUID]*domain.Booking{b.ID: b}},
	)

	_, err := svc.GetBooking(context.Background(), owner, false, b.ID)
	assert.NoError(t, err)

	_, err = svc.GetBooking(context.Background(), uuid.New(), true, b.ID)
	assert.NoError(t, err, "admins may read any booking")

	_, err = svc.GetBooking(context.Background(), uuid.New(), false, b.ID)
	assert.ErrorIs(t, err, booking.ErrNotOwner)

	_, err = svc.GetBooking(context.Background(), owner, false, uuid.New())
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestListUserBookings_DropsLongCompletedEvents(t *testing.T) {
	userID := uuid.New()

	withEvent := func(date time.Time, timeOfDay string) domain.BookingWithEvent {
		return domain.BookingWithEvent{
			Booking: domain.Booking{ID: uuid.New(), UserID: userID, Status: domain.BookingConfirmed},
			Event: domain.Event{
				ID:   uuid.New(),
				Date: date,
				Time: timeOfDay,
			},
		}
	}

	upcoming := withEvent(time.Now().Add(48*time.Hour), "18:00")
	longGone := withEvent(time.Now().Add(-72*time.Hour), "18:00")

	bookings := &fakeBookings{byUser: map[uuid.UUID][]domain.BookingWithEvent{
		userID: {upcoming, longGone},
	}}
	svc := newService(&fakeEvents{events: map[uuid.UUID]*domain.Event{}}, bookings)

	out, err := svc.ListUserBookings(context.Background(), userID)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, upcoming.ID, out[0].ID)
	assert.Equal(t, domain.EventUpcoming, out[0].Event.Status)
}
