package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/isachinpnr/eventease/internal/domain"
)

// EventStore reads event records. Event CRUD belongs to an external
// management collaborator; the engine only reads and the stores mutate the
// seat counter inside the transition operations.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

// BookingStore owns booking persistence. ConfirmPending, CreateConfirmed and
// Cancel are the conditional transitions: each couples the status write with
// the seat-counter write in one atomic operation.
type BookingStore interface {
	Create(ctx context.Context, b *domain.Booking) error
	CreateConfirmed(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindByUserEvent(ctx context.Context, userID, eventID uuid.UUID, status domain.BookingStatus) (*domain.Booking, error)
	ConfirmPending(ctx context.Context, id uuid.UUID, paymentID string) (*domain.Booking, bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	DeleteStalePending(ctx context.Context, userID, eventID uuid.UUID, cutoff time.Time) (int64, error)
	CountConfirmedSeats(ctx context.Context, eventID uuid.UUID) (int, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error
}

// Publisher emits domain events after a transition commits. Satisfied by the
// watermill cqrs event bus.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Refunder issues best-effort refunds on cancellation. Satisfied by the
// UroPay client; a disabled gateway reports Enabled() == false.
type Refunder interface {
	Enabled() bool
	Refund(ctx context.Context, paymentRef string, amount float64) error
}
