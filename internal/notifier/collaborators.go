package notifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Mailer delivers transactional mail. The user directory lives behind the
// auth provider, so delivery is keyed by user id and the concrete mailer
// resolves the address.
type Mailer interface {
	SendBookingConfirmed(ctx context.Context, userID uuid.UUID, bookingID uuid.UUID, ticket string) error
	SendBookingCancelled(ctx context.Context, userID uuid.UUID, bookingID uuid.UUID, refunded bool) error
}

// PushSender delivers a push notification to the user's registered devices.
type PushSender interface {
	Send(ctx context.Context, userID uuid.UUID, title, body string) error
}

// TicketRenderer produces the downloadable ticket attached to the
// confirmation email, base64-encoded.
type TicketRenderer interface {
	Render(ctx context.Context, bookingID, eventID uuid.UUID, seats int, amount float64) (string, error)
}

// LogMailer is the development mailer: it records the send instead of
// delivering it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendBookingConfirmed(_ context.Context, userID, bookingID uuid.UUID, ticket string) error {
	m.Logger.Info("email: booking confirmed",
		"user_id", userID, "booking_id", bookingID, "ticket_bytes", len(ticket))
	return nil
}

func (m *LogMailer) SendBookingCancelled(_ context.Context, userID, bookingID uuid.UUID, refunded bool) error {
	m.Logger.Info("email: booking cancelled",
		"user_id", userID, "booking_id", bookingID, "refunded", refunded)
	return nil
}

// LogPushSender records push notifications instead of delivering them.
type LogPushSender struct {
	Logger *slog.Logger
}

func (p *LogPushSender) Send(_ context.Context, userID uuid.UUID, title, body string) error {
	p.Logger.Info("push", "user_id", userID, "title", title, "body", body)
	return nil
}

// HTMLTicketRenderer renders the ticket as a small self-contained HTML
// receipt, base64-encoded for embedding in API responses and mail.
type HTMLTicketRenderer struct{}

func (HTMLTicketRenderer) Render(
	_ context.Context,
	bookingID, eventID uuid.UUID,
	seats int,
	amount float64,
) (string, error) {
	doc := fmt.Sprintf(`<!DOCTYPE html>
<html>
  <body>
    <h1>Booking Confirmation</h1>
    <p>Booking: %s</p>
    <p>Event: %s</p>
    <p>Seats: %d</p>
    <p>Amount: %.2f</p>
    <p>Issued: %s</p>
  </body>
</html>
`, bookingID, eventID, seats, amount, time.Now().UTC().Format(time.RFC3339))

	return base64.StdEncoding.EncodeToString([]byte(doc)), nil
}
