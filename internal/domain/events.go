package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventHeader carries the envelope metadata every published message has.
// The idempotency key lets consumers deduplicate redelivered messages.
type EventHeader struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func NewEventHeader() EventHeader {
	return EventHeader{
		ID:             uuid.NewString(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: uuid.NewString(),
	}
}

func NewEventHeaderWithIdempotencyKey(idempotencyKey string) EventHeader {
	return EventHeader{
		ID:             uuid.NewString(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

// BookingConfirmed_v1 is published after a booking's Pending→Confirmed
// transition commits. Notifier handlers (email, push, ticket rendering)
// consume it; their failures never reach the booking flow.
type BookingConfirmed_v1 struct {
	Header      EventHeader `json:"header"`
	BookingID   uuid.UUID   `json:"booking_id"`
	UserID      uuid.UUID   `json:"user_id"`
	EventID     uuid.UUID   `json:"event_id"`
	Seats       int         `json:"seats"`
	TotalAmount float64     `json:"total_amount"`
	PaymentID   string      `json:"payment_id"`
}

// BookingCancelled_v1 is published after a Confirmed→Cancelled transition
// commits, including the seat count that was released.
type BookingCancelled_v1 struct {
	Header    EventHeader `json:"header"`
	BookingID uuid.UUID   `json:"booking_id"`
	UserID    uuid.UUID   `json:"user_id"`
	EventID   uuid.UUID   `json:"event_id"`
	Seats     int         `json:"seats"`
	Refunded  bool        `json:"refunded"`
}
