package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables the service owns. The partial unique index
// on bookings backs the at-most-one-Confirmed-per-(user,event) invariant, and
// the booked_seats check keeps the counter inside [0, capacity] even if a
// write path regresses.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	code TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'Other',
	location TEXT NOT NULL DEFAULT 'In-Person',
	venue TEXT NOT NULL DEFAULT '',
	event_date DATE NOT NULL,
	event_time TEXT NOT NULL DEFAULT '00:00',
	capacity INTEGER NOT NULL CHECK (capacity >= 1),
	booked_seats INTEGER NOT NULL DEFAULT 0 CHECK (booked_seats >= 0 AND booked_seats <= capacity),
	price NUMERIC(10, 2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Upcoming',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	event_id UUID NOT NULL REFERENCES events(id),
	seats INTEGER NOT NULL CHECK (seats BETWEEN 1 AND 2),
	total_amount NUMERIC(10, 2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Pending',
	payment_status TEXT NOT NULL DEFAULT 'pending',
	payment_id TEXT,
	payment_intent_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("failed to create bookings table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
CREATE UNIQUE INDEX IF NOT EXISTS bookings_one_confirmed
	ON bookings (user_id, event_id) WHERE status = 'Confirmed';`)
	if err != nil {
		return fmt.Errorf("failed to create bookings_one_confirmed index: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
CREATE INDEX IF NOT EXISTS bookings_user_event
	ON bookings (user_id, event_id);`)
	if err != nil {
		return fmt.Errorf("failed to create bookings_user_event index: %w", err)
	}

	return nil
}
