package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/repository"
)

type BookingRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const bookingColumns = `id, user_id, event_id, seats, total_amount, status,
	payment_status, COALESCE(payment_id, ''), COALESCE(payment_intent_id, ''), created_at`

func scanBooking(row interface{ Scan(dest ...any) error }) (*domain.Booking, error) {
	var b domain.Booking
	var status, paymentStatus string
	err := row.Scan(
		&b.ID, &b.UserID, &b.EventID, &b.Seats, &b.TotalAmount, &status,
		&paymentStatus, &b.PaymentID, &b.PaymentIntentID, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return &b, nil
}

// Create inserts a Pending booking carrying its payment reference.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row, err := scanBooking(db.QueryRow(ctx,
		`INSERT INTO bookings (id, user_id, event_id, seats, total_amount,
			status, payment_status, payment_id, payment_intent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		 RETURNING `+bookingColumns,
		b.ID, b.UserID, b.EventID, b.Seats, b.TotalAmount,
		string(b.Status), string(b.PaymentStatus), b.PaymentID, b.PaymentIntentID,
	))
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	*b = *row
	return nil
}

// CreateConfirmed creates a booking directly in the Confirmed state (free
// events and the webhook create+confirm path). The seat-counter increment and
// the insert commit together; the capacity guard is part of the counter
// update, so a full event means zero rows matched and the whole transaction
// rolls back.
//
// Returns:
//   - error: repository.ErrCapacityExceeded when the event has no room.
//   - error: repository.ErrConflict when a Confirmed booking already exists
//     for this (user, event) pair.
//   - error: repository.ErrNotFound when the event does not exist.
func (r *BookingRepo) CreateConfirmed(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.CreateConfirmed"

	if r.db != nil {
		if err := r.createConfirmedCore(ctx, r.db, b); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		return nil
	}

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		return r.createConfirmedCore(ctx, tx, b)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) createConfirmedCore(ctx context.Context, db DB, b *domain.Booking) error {
	tag, err := db.Exec(ctx,
		`UPDATE events SET booked_seats = booked_seats + $2
		 WHERE id = $1 AND booked_seats + $2 <= capacity`,
		b.EventID, b.Seats,
	)
	if err != nil {
		return translateDBErr(err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, b.EventID,
		).Scan(&exists); err != nil {
			return translateDBErr(err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrCapacityExceeded
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row, err := scanBooking(db.QueryRow(ctx,
		`INSERT INTO bookings (id, user_id, event_id, seats, total_amount,
			status, payment_status, payment_id, payment_intent_id)
		 VALUES ($1, $2, $3, $4, $5, 'Confirmed', $6, NULLIF($7, ''), NULLIF($8, ''))
		 RETURNING `+bookingColumns,
		b.ID, b.UserID, b.EventID, b.Seats, b.TotalAmount,
		string(b.PaymentStatus), b.PaymentID, b.PaymentIntentID,
	))
	if err != nil {
		return translateDBErr(err)
	}

	*b = *row
	return nil
}

// ConfirmPending performs the Pending→Confirmed transition as a single
// conditional write: the status flip matches only while the booking is still
// Pending, so concurrent confirmation attempts (webhook vs. poll vs. manual)
// collapse to exactly one seat increment.
//
// Returns:
//   - *domain.Booking, true: the booking, freshly transitioned.
//   - *domain.Booking, false: the booking was already Confirmed (idempotent no-op).
//   - error: repository.ErrNotFound, repository.ErrNotPending, or
//     repository.ErrCapacityExceeded when capacity ran out between intent
//     creation and confirmation.
func (r *BookingRepo) ConfirmPending(
	ctx context.Context,
	id uuid.UUID,
	paymentID string,
) (*domain.Booking, bool, error) {
	const op = "postgres.BookingRepo.ConfirmPending"

	var booking *domain.Booking
	var transitioned bool

	run := func(ctx context.Context, db DB) error {
		b, moved, err := r.confirmPendingCore(ctx, db, id, paymentID)
		if err != nil {
			return err
		}
		booking, transitioned = b, moved
		return nil
	}

	var err error
	if r.db != nil {
		err = run(ctx, r.db)
	} else {
		err = r.store.RunTx(ctx, nil, run)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	return booking, transitioned, nil
}

func (r *BookingRepo) confirmPendingCore(
	ctx context.Context,
	db DB,
	id uuid.UUID,
	paymentID string,
) (*domain.Booking, bool, error) {
	b, err := scanBooking(db.QueryRow(ctx,
		`UPDATE bookings
		 SET status = 'Confirmed', payment_status = 'paid', payment_id = NULLIF($2, '')
		 WHERE id = $1 AND status = 'Pending'
		 RETURNING `+bookingColumns,
		id, paymentID,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, translateDBErr(err)
		}

		// Nothing was Pending under this id: either the booking is gone,
		// already Confirmed (idempotent path), or in a non-confirmable state.
		existing, err := scanBooking(db.QueryRow(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
		))
		if err != nil {
			return nil, false, translateDBErr(err)
		}
		if existing.Status == domain.BookingConfirmed {
			return existing, false, nil
		}
		return nil, false, repository.ErrNotPending
	}

	tag, err := db.Exec(ctx,
		`UPDATE events SET booked_seats = booked_seats + $2
		 WHERE id = $1 AND booked_seats + $2 <= capacity`,
		b.EventID, b.Seats,
	)
	if err != nil {
		return nil, false, translateDBErr(err)
	}
	if tag.RowsAffected() == 0 {
		// Capacity was consumed while the payment was in flight. Rolling back
		// leaves the booking Pending for the staleness sweep.
		return nil, false, repository.ErrCapacityExceeded
	}

	return b, true, nil
}

// Cancel performs the Confirmed→Cancelled transition and releases the seats
// in the same transaction.
//
// Returns:
//   - error: repository.ErrNotFound, repository.ErrAlreadyCancelled, or
//     repository.ErrNotConfirmed for a booking that never confirmed.
func (r *BookingRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Cancel"

	var booking *domain.Booking

	run := func(ctx context.Context, db DB) error {
		b, err := r.cancelCore(ctx, db, id)
		if err != nil {
			return err
		}
		booking = b
		return nil
	}

	var err error
	if r.db != nil {
		err = run(ctx, r.db)
	} else {
		err = r.store.RunTx(ctx, nil, run)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return booking, nil
}

func (r *BookingRepo) cancelCore(ctx context.Context, db DB, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(db.QueryRow(ctx,
		`UPDATE bookings SET status = 'Cancelled'
		 WHERE id = $1 AND status = 'Confirmed'
		 RETURNING `+bookingColumns,
		id,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, translateDBErr(err)
		}

		existing, err := scanBooking(db.QueryRow(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
		))
		if err != nil {
			return nil, translateDBErr(err)
		}
		if existing.Status == domain.BookingCancelled {
			return nil, repository.ErrAlreadyCancelled
		}
		return nil, repository.ErrNotConfirmed
	}

	if _, err := db.Exec(ctx,
		`UPDATE events SET booked_seats = GREATEST(booked_seats - $2, 0)
		 WHERE id = $1`,
		b.EventID, b.Seats,
	); err != nil {
		return nil, translateDBErr(err)
	}

	return b, nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetByID"

	db := r.handle()

	b, err := scanBooking(db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// FindByUserEvent retrieves the newest booking with the given status for a
// (user, event) pair.
func (r *BookingRepo) FindByUserEvent(
	ctx context.Context,
	userID, eventID uuid.UUID,
	status domain.BookingStatus,
) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByUserEvent"

	db := r.handle()

	b, err := scanBooking(db.QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE user_id = $1 AND event_id = $2 AND status = $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, eventID, string(status),
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// DeleteStalePending removes Pending bookings older than the cutoff for a
// (user, event) pair so abandoned payment attempts stop squatting on
// capacity. Pending bookings never hold seats, so no counter adjustment.
func (r *BookingRepo) DeleteStalePending(
	ctx context.Context,
	userID, eventID uuid.UUID,
	cutoff time.Time,
) (int64, error) {
	const op = "postgres.BookingRepo.DeleteStalePending"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM bookings
		 WHERE user_id = $1 AND event_id = $2 AND status = 'Pending' AND created_at < $3`,
		userID, eventID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

// CountConfirmedSeats sums the seats of Confirmed bookings for an event.
// Used for admission control at intent-creation time.
func (r *BookingRepo) CountConfirmedSeats(ctx context.Context, eventID uuid.UUID) (int, error) {
	const op = "postgres.BookingRepo.CountConfirmedSeats"

	db := r.handle()

	var total int
	err := db.QueryRow(ctx,
		`SELECT COALESCE(SUM(seats), 0)
		 FROM bookings
		 WHERE event_id = $1 AND status = 'Confirmed'`,
		eventID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return total, nil
}

// SetPaymentStatus records a compensating payment-status change (refunds)
// without touching the booking status.
func (r *BookingRepo) SetPaymentStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
) error {
	const op = "postgres.BookingRepo.SetPaymentStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings SET payment_status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListConfirmedByUser retrieves a user's Confirmed bookings joined with their
// events, newest first.
func (r *BookingRepo) ListConfirmedByUser(ctx context.Context, userID uuid.UUID) ([]domain.BookingWithEvent, error) {
	const op = "postgres.BookingRepo.ListConfirmedByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT b.id, b.user_id, b.event_id, b.seats, b.total_amount, b.status,
			b.payment_status, COALESCE(b.payment_id, ''), COALESCE(b.payment_intent_id, ''), b.created_at,
			e.id, e.code, e.title, e.category, e.location, e.venue,
			e.event_date, e.event_time, e.capacity, e.booked_seats, e.price, e.status
		 FROM bookings b
		 JOIN events e ON e.id = b.event_id
		 WHERE b.user_id = $1 AND b.status = 'Confirmed'
		 ORDER BY b.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.BookingWithEvent
	for rows.Next() {
		var bwe domain.BookingWithEvent
		var bStatus, bPaymentStatus, eStatus string

		if err := rows.Scan(
			&bwe.ID, &bwe.UserID, &bwe.EventID, &bwe.Seats, &bwe.TotalAmount, &bStatus,
			&bPaymentStatus, &bwe.PaymentID, &bwe.PaymentIntentID, &bwe.CreatedAt,
			&bwe.Event.ID, &bwe.Event.Code, &bwe.Event.Title, &bwe.Event.Category,
			&bwe.Event.Location, &bwe.Event.Venue, &bwe.Event.Date, &bwe.Event.Time,
			&bwe.Event.Capacity, &bwe.Event.BookedSeats, &bwe.Event.Price, &eStatus,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		bwe.Status = domain.BookingStatus(bStatus)
		bwe.PaymentStatus = domain.PaymentStatus(bPaymentStatus)
		bwe.Event.Status = domain.EventStatus(eStatus)
		out = append(out, bwe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
