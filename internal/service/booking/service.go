// Package booking is the booking lifecycle engine. It owns the
// Pending/Confirmed/Cancelled state machine, the capacity and idempotency
// guards, and is the only place that moves a booking between states. The
// payment channels (webhook, poll, manual, self) are thin adapters that
// gather evidence and funnel into the single Confirm operation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/repository"
)

// AmountTolerance is the maximum accepted difference between a claimed
// payment amount and the booking total.
const AmountTolerance = 0.01

type Config struct {
	// PendingTTL is the staleness window after which an unpaid Pending
	// booking is swept on the next attempt for the same (user, event) pair.
	PendingTTL time.Duration
}

type Service struct {
	events   EventStore
	bookings BookingStore
	pub      Publisher
	refunder Refunder
	logger   *slog.Logger
	cfg      Config
}

func New(
	events EventStore,
	bookings BookingStore,
	pub Publisher,
	refunder Refunder,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}

	return &Service{
		events:   events,
		bookings: bookings,
		pub:      pub,
		refunder: refunder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Channel identifies which confirmation path produced a piece of evidence.
type Channel string

const (
	ChannelVerify  Channel = "verify"
	ChannelPoll    Channel = "poll"
	ChannelManual  Channel = "manual"
	ChannelSelf    Channel = "self"
	ChannelWebhook Channel = "webhook"
)

// Ref locates the booking a confirmation applies to: by explicit id when the
// caller knows it, otherwise by the (user, event) pair.
type Ref struct {
	BookingID uuid.UUID
	UserID    uuid.UUID
	EventID   uuid.UUID
}

// Evidence is everything a channel adapter learned about the payment. The
// engine decides whether it is sufficient; adapters never confirm on their
// own.
type Evidence struct {
	Channel          Channel
	TransactionID    string
	PaymentLinkID    string
	Amount           float64 // 0 means "not claimed", skips the tolerance check
	GatewayConfirmed bool    // the gateway itself reported the link as paid

	// Seats and TotalAmount allow the webhook and verify channels to create
	// a booking that was never registered locally (intent created on another
	// node, Pending record already swept, etc.).
	Seats       int
	TotalAmount float64

	// RequireOwner makes the confirmation fail unless CallerID matches the
	// booking's user. Manual (trusted) confirmation leaves it unset.
	RequireOwner bool
	CallerID     uuid.UUID
}

// sufficient reports whether the evidence justifies a Pending→Confirmed
// transition at all. Self-confirmation is trust-based per product decision.
func (ev Evidence) sufficient() bool {
	return ev.GatewayConfirmed ||
		strings.TrimSpace(ev.TransactionID) != "" ||
		ev.Channel == ChannelSelf
}

// paymentID picks the external payment reference to record on the booking.
func (ev Evidence) paymentID() string {
	switch {
	case strings.TrimSpace(ev.TransactionID) != "":
		return strings.TrimSpace(ev.TransactionID)
	case ev.PaymentLinkID != "":
		return ev.PaymentLinkID
	default:
		return fmt.Sprintf("UPI-%d", time.Now().UnixMilli())
	}
}

// CreateFreeBooking creates a directly-Confirmed booking for a zero-price
// event.
//
// Returns:
//   - error: ErrInvalidSeats, ErrEventNotFound, ErrPaidEvent,
//     ErrEventStarted, ErrAlreadyBooked, ErrNoCapacity.
func (s *Service) CreateFreeBooking(
	ctx context.Context,
	userID, eventID uuid.UUID,
	seats int,
) (*domain.Booking, error) {
	const op = "service.booking.CreateFreeBooking"

	event, err := s.admit(ctx, userID, eventID, seats)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if event.Price > 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrPaidEvent)
	}

	b := &domain.Booking{
		UserID:        userID,
		EventID:       eventID,
		Seats:         seats,
		TotalAmount:   0,
		Status:        domain.BookingConfirmed,
		PaymentStatus: domain.PaymentPaid,
	}

	if err := s.bookings.CreateConfirmed(ctx, b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateStoreErr(err))
	}

	s.publishConfirmed(ctx, b)

	return b, nil
}

// CreatePendingBooking starts a paid-event flow: it runs the same admission
// guards, sweeps stale Pending bookings for the pair, and records a Pending
// booking carrying a fresh payment reference in paymentIntentId.
func (s *Service) CreatePendingBooking(
	ctx context.Context,
	userID, eventID uuid.UUID,
	seats int,
) (*domain.Booking, *domain.Event, error) {
	const op = "service.booking.CreatePendingBooking"

	event, err := s.admit(ctx, userID, eventID, seats)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	b := &domain.Booking{
		UserID:          userID,
		EventID:         eventID,
		Seats:           seats,
		TotalAmount:     event.Price * float64(seats),
		Status:          domain.BookingPending,
		PaymentStatus:   domain.PaymentPending,
		PaymentIntentID: PaymentReference(eventID, userID),
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, translateStoreErr(err))
	}

	return b, event, nil
}

// admit runs the shared creation guards: seat range, event existence,
// not-started, no existing Confirmed booking, staleness sweep and the
// confirmed-seat-sum capacity check.
func (s *Service) admit(
	ctx context.Context,
	userID, eventID uuid.UUID,
	seats int,
) (*domain.Event, error) {
	if seats < domain.MinSeatsPerBooking || seats > domain.MaxSeatsPerBooking {
		return nil, ErrInvalidSeats
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	if domain.HasStarted(event.Date, event.Time, time.Now()) {
		return nil, ErrEventStarted
	}

	if _, err := s.bookings.FindByUserEvent(ctx, userID, eventID, domain.BookingConfirmed); err == nil {
		return nil, ErrAlreadyBooked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	cutoff := time.Now().Add(-s.cfg.PendingTTL)
	if n, err := s.bookings.DeleteStalePending(ctx, userID, eventID, cutoff); err != nil {
		return nil, err
	} else if n > 0 {
		s.logger.Info("swept stale pending bookings",
			"user_id", userID, "event_id", eventID, "count", n)
	}

	confirmed, err := s.bookings.CountConfirmedSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if confirmed+seats > event.Capacity {
		return nil, ErrNoCapacity
	}

	return event, nil
}

// Confirm is the single Pending→Confirmed transition every channel funnels
// into.
//
// Returns:
//   - *domain.Booking, true: freshly confirmed; side effects were dispatched.
//   - *domain.Booking, false: already Confirmed, nothing changed.
//   - error: ErrBookingNotFound, ErrNotOwner, ErrPaymentNotVerified,
//     ErrAmountMismatch, ErrNotPending, ErrNoCapacity, ErrEventNotFound.
func (s *Service) Confirm(ctx context.Context, ref Ref, ev Evidence) (*domain.Booking, bool, error) {
	const op = "service.booking.Confirm"

	b, err := s.resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) && ev.Seats > 0 &&
			(ev.Channel == ChannelWebhook || ev.Channel == ChannelVerify) {
			return s.confirmFromMetadata(ctx, ref, ev)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if ev.RequireOwner && b.UserID != ev.CallerID {
		return nil, false, fmt.Errorf("%s: %w", op, ErrNotOwner)
	}

	// Idempotency guard: duplicate webhooks, a poll racing a webhook, a
	// second manual verify — all resolve here without touching capacity.
	if b.Status == domain.BookingConfirmed {
		return b, false, nil
	}

	if !ev.sufficient() {
		return nil, false, fmt.Errorf("%s: %w", op, ErrPaymentNotVerified)
	}

	if ev.Amount > 0 && math.Abs(ev.Amount-b.TotalAmount) > AmountTolerance {
		return nil, false, fmt.Errorf("%s: %w", op, ErrAmountMismatch)
	}

	confirmed, transitioned, err := s.bookings.ConfirmPending(ctx, b.ID, ev.paymentID())
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, translateStoreErr(err))
	}

	if transitioned {
		s.publishConfirmed(ctx, confirmed)
	}

	return confirmed, transitioned, nil
}

// resolve finds the booking a confirmation refers to: explicit id first,
// then the pair's Confirmed booking (idempotent path), then its Pending one.
func (s *Service) resolve(ctx context.Context, ref Ref) (*domain.Booking, error) {
	if ref.BookingID != uuid.Nil {
		b, err := s.bookings.GetByID(ctx, ref.BookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrBookingNotFound
			}
			return nil, err
		}
		return b, nil
	}

	if ref.UserID == uuid.Nil || ref.EventID == uuid.Nil {
		return nil, ErrBookingNotFound
	}

	for _, status := range []domain.BookingStatus{domain.BookingConfirmed, domain.BookingPending} {
		b, err := s.bookings.FindByUserEvent(ctx, ref.UserID, ref.EventID, status)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrBookingNotFound
}

// confirmFromMetadata handles a confirmation for a booking that has no local
// record: the seat count carried in the evidence (webhook correlation notes,
// verify request body) is enough to create the booking directly in the
// Confirmed state. A concurrent duplicate loses the unique-index race and
// returns the winner's booking.
func (s *Service) confirmFromMetadata(
	ctx context.Context,
	ref Ref,
	ev Evidence,
) (*domain.Booking, bool, error) {
	const op = "service.booking.confirmFromMetadata"

	if ev.RequireOwner && ref.UserID != ev.CallerID {
		return nil, false, fmt.Errorf("%s: %w", op, ErrNotOwner)
	}

	if !ev.sufficient() {
		return nil, false, fmt.Errorf("%s: %w", op, ErrPaymentNotVerified)
	}

	event, err := s.events.GetEvent(ctx, ref.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%s: %w", op, ErrEventNotFound)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	total := ev.TotalAmount
	if total <= 0 {
		total = event.Price * float64(ev.Seats)
	}

	if ev.Amount > 0 && math.Abs(ev.Amount-total) > AmountTolerance {
		return nil, false, fmt.Errorf("%s: %w", op, ErrAmountMismatch)
	}

	b := &domain.Booking{
		UserID:          ref.UserID,
		EventID:         ref.EventID,
		Seats:           ev.Seats,
		TotalAmount:     total,
		Status:          domain.BookingConfirmed,
		PaymentStatus:   domain.PaymentPaid,
		PaymentID:       ev.paymentID(),
		PaymentIntentID: ev.PaymentLinkID,
	}

	if err := s.bookings.CreateConfirmed(ctx, b); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			existing, ferr := s.bookings.FindByUserEvent(ctx, ref.UserID, ref.EventID, domain.BookingConfirmed)
			if ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("%s: %w", op, translateStoreErr(err))
	}

	s.publishConfirmed(ctx, b)

	return b, true, nil
}

// Cancel performs the Confirmed→Cancelled transition for the booking's
// owner, releases the seats and attempts a best-effort refund. The refund is
// a compensating action: its failure never rolls the cancellation back.
//
// Returns:
//   - error: ErrBookingNotFound, ErrNotOwner, ErrAlreadyCancelled,
//     ErrEventStarted, ErrNotPending for a booking that never confirmed.
func (s *Service) Cancel(ctx context.Context, callerID, bookingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.Cancel"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if b.UserID != callerID {
		return nil, fmt.Errorf("%s: %w", op, ErrNotOwner)
	}

	if b.Status == domain.BookingCancelled {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyCancelled)
	}

	event, err := s.events.GetEvent(ctx, b.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if domain.HasStarted(event.Date, event.Time, time.Now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrEventStarted)
	}

	cancelled, err := s.bookings.Cancel(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateStoreErr(err))
	}

	refunded := s.tryRefund(ctx, cancelled)

	s.publishCancelled(ctx, cancelled, refunded)

	return cancelled, nil
}

// tryRefund attempts a gateway refund for a paid booking. Failures are
// logged only.
func (s *Service) tryRefund(ctx context.Context, b *domain.Booking) bool {
	if b.PaymentStatus != domain.PaymentPaid || b.TotalAmount <= 0 {
		return false
	}
	if s.refunder == nil || !s.refunder.Enabled() {
		s.logger.Warn("refund skipped, gateway unavailable", "booking_id", b.ID)
		return false
	}

	if err := s.refunder.Refund(ctx, b.PaymentID, b.TotalAmount); err != nil {
		s.logger.Error("refund failed", "booking_id", b.ID, "error", err)
		return false
	}

	if err := s.bookings.SetPaymentStatus(ctx, b.ID, domain.PaymentRefunded); err != nil {
		s.logger.Error("failed to record refund", "booking_id", b.ID, "error", err)
	}
	b.PaymentStatus = domain.PaymentRefunded

	return true
}

func (s *Service) publishConfirmed(ctx context.Context, b *domain.Booking) {
	if s.pub == nil {
		return
	}

	err := s.pub.Publish(ctx, domain.BookingConfirmed_v1{
		Header:      domain.NewEventHeaderWithIdempotencyKey(b.ID.String()),
		BookingID:   b.ID,
		UserID:      b.UserID,
		EventID:     b.EventID,
		Seats:       b.Seats,
		TotalAmount: b.TotalAmount,
		PaymentID:   b.PaymentID,
	})
	if err != nil {
		// Side effects are best-effort; the transition already committed.
		s.logger.Error("failed to publish booking confirmed", "booking_id", b.ID, "error", err)
	}
}

func (s *Service) publishCancelled(ctx context.Context, b *domain.Booking, refunded bool) {
	if s.pub == nil {
		return
	}

	err := s.pub.Publish(ctx, domain.BookingCancelled_v1{
		Header:    domain.NewEventHeaderWithIdempotencyKey(b.ID.String() + ":cancelled"),
		BookingID: b.ID,
		UserID:    b.UserID,
		EventID:   b.EventID,
		Seats:     b.Seats,
		Refunded:  refunded,
	})
	if err != nil {
		s.logger.Error("failed to publish booking cancelled", "booking_id", b.ID, "error", err)
	}
}

// PaymentReference builds the human-traceable reference recorded on a
// Pending booking, e.g. EVT-1a2b3c-4d5e6f-12345678.
func PaymentReference(eventID, userID uuid.UUID) string {
	return fmt.Sprintf("EVT-%s-%s-%s",
		idSuffix(eventID), idSuffix(userID), tsSuffix(time.Now()))
}

func idSuffix(id uuid.UUID) string {
	s := strings.ReplaceAll(id.String(), "-", "")
	return s[len(s)-6:]
}

func tsSuffix(t time.Time) string {
	s := fmt.Sprintf("%d", t.UnixMilli())
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	return s
}

// translateStoreErr maps repository sentinels onto the engine's error set.
func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrCapacityExceeded):
		return ErrNoCapacity
	case errors.Is(err, repository.ErrConflict):
		return ErrAlreadyBooked
	case errors.Is(err, repository.ErrNotFound):
		return ErrBookingNotFound
	case errors.Is(err, repository.ErrNotPending):
		return ErrNotPending
	case errors.Is(err, repository.ErrAlreadyCancelled):
		return ErrAlreadyCancelled
	case errors.Is(err, repository.ErrNotConfirmed):
		return ErrNotPending
	default:
		return err
	}
}
