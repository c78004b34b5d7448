// Package payments adapts the four payment confirmation channels — gateway
// webhook, client poll, admin manual verify and self-confirmation — onto the
// booking engine's single Confirm operation. The adapters gather evidence;
// they never flip booking state themselves.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/gateway/uropay"
	redisrepo "github.com/isachinpnr/eventease/internal/repository/redis"
	"github.com/isachinpnr/eventease/internal/service/booking"
)

// Payment intent modes. Direct mode means the gateway is disabled and the
// user pays over plain UPI with no automatic verification.
const (
	ModeGateway = "gateway"
	ModeDirect  = "direct"
)

const webhookDedupTTL = 24 * time.Hour

// Gateway is the slice of the UroPay client the channels need. A nil or
// disabled gateway degrades payment creation to direct mode.
type Gateway interface {
	Enabled() bool
	CreatePaymentLink(ctx context.Context, req uropay.CreateLinkRequest) (*uropay.PaymentLink, error)
	GetPaymentLink(ctx context.Context, linkID string) (*uropay.PaymentLink, error)
}

// Engine is the booking lifecycle engine surface the channels drive.
type Engine interface {
	CreatePendingBooking(ctx context.Context, userID, eventID uuid.UUID, seats int) (*domain.Booking, *domain.Event, error)
	Confirm(ctx context.Context, ref booking.Ref, ev booking.Evidence) (*domain.Booking, bool, error)
}

// BookingReader resolves bookings for the status and poll channels.
type BookingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
}

// IdempotencyStore replays payment intents and dedupes webhook deliveries.
// Satisfied by the Redis-backed store; nil disables the fast paths.
type IdempotencyStore interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
}

type Config struct {
	CallbackURL string
	ReturnURL   string
	Currency    string
}

type Service struct {
	engine   Engine
	gateway  Gateway
	bookings BookingReader
	idem     IdempotencyStore
	logger   *slog.Logger
	cfg      Config
}

func New(
	engine Engine,
	gateway Gateway,
	bookings BookingReader,
	idem IdempotencyStore,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}

	return &Service{
		engine:   engine,
		gateway:  gateway,
		bookings: bookings,
		idem:     idem,
		logger:   logger,
		cfg:      cfg,
	}
}

// Payer is who is paying, with the contact details the gateway wants on the
// payment link.
type Payer struct {
	ID      uuid.UUID
	Name    string
	Email   string
	Contact string
}

// Intent is the result of payment creation. In direct mode Link is nil and
// the client shows the raw payment reference instead.
type Intent struct {
	Booking   *domain.Booking `json:"bookingData"`
	Event     *domain.Event   `json:"event"`
	Mode      string          `json:"mode"`
	Reference string          `json:"paymentReference"`
	Link      *intentLink     `json:"paymentLink,omitempty"`
}

type intentLink struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	QRCode string `json:"qrCode,omitempty"`
}

// CreatePayment registers a Pending booking and, when the gateway is live,
// attaches a payment link to it. Gateway failure is not fatal: the intent
// degrades to direct mode and the booking stays Pending.
//
// idemKey, when non-empty, replays the previously stored intent for the same
// (event, key) pair instead of creating a second booking.
func (s *Service) CreatePayment(
	ctx context.Context,
	payer Payer,
	eventID uuid.UUID,
	seats int,
	idemKey string,
) (*Intent, error) {
	const op = "service.payments.CreatePayment"

	idemKey = strings.TrimSpace(idemKey)
	var storeKey string
	if idemKey != "" && s.idem != nil {
		storeKey = redisrepo.KeyIdemPayment(eventID.String(), idemKey)

		if cached, ok, err := s.idem.GetResult(ctx, storeKey); err == nil && ok {
			var intent Intent
			if json.Unmarshal([]byte(cached), &intent) == nil {
				return &intent, nil
			}
		}

		acquired, err := s.idem.AcquireLock(ctx, storeKey, 30*time.Second)
		if err != nil {
			s.logger.Warn("idempotency store unavailable", "error", err)
		} else if !acquired {
			return nil, fmt.Errorf("%s: %w", op, ErrInProgress)
		}
	}

	b, event, err := s.engine.CreatePendingBooking(ctx, payer.ID, eventID, seats)
	if err != nil {
		if storeKey != "" && s.idem != nil {
			_ = s.idem.Release(ctx, storeKey)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	intent := &Intent{
		Booking:   b,
		Event:     event,
		Mode:      ModeDirect,
		Reference: b.PaymentIntentID,
	}

	if s.gateway != nil && s.gateway.Enabled() {
		link, gerr := s.gateway.CreatePaymentLink(ctx, uropay.CreateLinkRequest{
			Amount:      b.TotalAmount,
			Currency:    s.cfg.Currency,
			Description: fmt.Sprintf("%s x%d", event.Title, seats),
			Customer: uropay.Customer{
				Name:    payer.Name,
				Email:   payer.Email,
				Contact: payer.Contact,
			},
			Notes: uropay.LinkNotes{
				EventID:    eventID.String(),
				EventTitle: event.Title,
				Seats:      strconv.Itoa(seats),
				UserID:     payer.ID.String(),
			},
			CallbackURL: s.cfg.CallbackURL,
			ReturnURL:   s.cfg.ReturnURL,
		})
		if gerr != nil {
			s.logger.Warn("payment link creation failed, degrading to direct mode",
				"booking_id", b.ID, "error", gerr)
		} else {
			intent.Mode = ModeGateway
			intent.Link = &intentLink{ID: link.ID, URL: link.URL, QRCode: link.QRCode}
		}
	}

	if storeKey != "" && s.idem != nil {
		if payload, merr := json.Marshal(intent); merr == nil {
			if err := s.idem.SaveResult(ctx, storeKey, string(payload)); err != nil {
				s.logger.Warn("failed to store idempotent intent", "error", err)
			}
		}
	}

	return intent, nil
}

// VerifyRequest is the client-submitted evidence after it believes a payment
// went through. Seats lets the engine recreate a booking whose Pending record
// was already swept.
type VerifyRequest struct {
	BookingID     uuid.UUID
	EventID       uuid.UUID
	TransactionID string
	PaymentLinkID string
	Amount        float64
	Seats         int
}

// Verify is the user-facing verification channel: the client reports a
// transaction id (and optionally the amount it paid) and the engine decides.
func (s *Service) Verify(ctx context.Context, callerID uuid.UUID, req VerifyRequest) (*domain.Booking, error) {
	const op = "service.payments.Verify"

	if strings.TrimSpace(req.TransactionID) == "" && strings.TrimSpace(req.PaymentLinkID) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingReference)
	}

	evidence := booking.Evidence{
		Channel:       booking.ChannelVerify,
		TransactionID: req.TransactionID,
		PaymentLinkID: req.PaymentLinkID,
		Amount:        req.Amount,
		Seats:         req.Seats,
		TotalAmount:   req.Amount,
		RequireOwner:  true,
		CallerID:      callerID,
	}

	// A link id alone is only hearsay; corroborate with the gateway when it
	// is live.
	if strings.TrimSpace(req.TransactionID) == "" && s.gateway != nil && s.gateway.Enabled() {
		link, err := s.gateway.GetPaymentLink(ctx, req.PaymentLinkID)
		if err == nil && link.IsPaid() {
			evidence.GatewayConfirmed = true
			evidence.TransactionID = link.Reference()
		}
	}

	b, _, err := s.engine.Confirm(ctx, booking.Ref{
		BookingID: req.BookingID,
		UserID:    callerID,
		EventID:   req.EventID,
	}, evidence)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// CheckResult is the poll channel's answer. Verified false with a nil error
// means "keep polling".
type CheckResult struct {
	Verified bool            `json:"verified"`
	Booking  *domain.Booking `json:"booking,omitempty"`
}

// CheckPayment polls the gateway for a payment link's status and confirms
// the booking when the link is paid. When the gateway cannot answer — no
// link id, disabled, unreachable, or the link is still unpaid — it falls
// back to local booking state, since the booking may have confirmed through
// another channel in the meantime. Infra trouble is reported as not-verified
// rather than an error so the client keeps polling.
func (s *Service) CheckPayment(
	ctx context.Context,
	callerID uuid.UUID,
	bookingID uuid.UUID,
	linkID string,
) (*CheckResult, error) {
	const op = "service.payments.CheckPayment"

	linkID = strings.TrimSpace(linkID)

	if linkID != "" && s.gateway != nil && s.gateway.Enabled() {
		link, err := s.gateway.GetPaymentLink(ctx, linkID)
		if err != nil {
			s.logger.Warn("payment status poll failed", "link_id", linkID, "error", err)
		} else if link.IsPaid() {
			b, _, err := s.engine.Confirm(ctx, booking.Ref{BookingID: bookingID, UserID: callerID}, booking.Evidence{
				Channel:          booking.ChannelPoll,
				TransactionID:    link.Reference(),
				PaymentLinkID:    linkID,
				GatewayConfirmed: true,
				RequireOwner:     true,
				CallerID:         callerID,
			})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return &CheckResult{Verified: true, Booking: b}, nil
		}
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return &CheckResult{Verified: false}, nil
	}
	if b.UserID != callerID {
		return nil, fmt.Errorf("%s: %w", op, booking.ErrNotOwner)
	}
	if b.Status == domain.BookingConfirmed {
		return &CheckResult{Verified: true, Booking: b}, nil
	}

	return &CheckResult{Verified: false}, nil
}

// ConfirmSelf is the trust-based channel for direct-UPI payments: the user
// asserts they paid and the booking confirms with a generated UPI reference.
func (s *Service) ConfirmSelf(ctx context.Context, callerID, bookingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.payments.ConfirmSelf"

	b, _, err := s.engine.Confirm(ctx, booking.Ref{BookingID: bookingID, UserID: callerID}, booking.Evidence{
		Channel:      booking.ChannelSelf,
		RequireOwner: true,
		CallerID:     callerID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// ManualVerifyRequest identifies the booking an operator is settling, either
// directly or by the (user, event) pair from a support ticket.
type ManualVerifyRequest struct {
	BookingID     uuid.UUID
	UserID        uuid.UUID
	EventID       uuid.UUID
	TransactionID string
	Amount        float64
}

// ManualVerify is the trusted back-office channel. No ownership check: the
// caller was already authorized as an admin by the transport layer.
func (s *Service) ManualVerify(ctx context.Context, req ManualVerifyRequest) (*domain.Booking, error) {
	const op = "service.payments.ManualVerify"

	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingReference)
	}

	b, _, err := s.engine.Confirm(ctx, booking.Ref{
		BookingID: req.BookingID,
		UserID:    req.UserID,
		EventID:   req.EventID,
	}, booking.Evidence{
		Channel:       booking.ChannelManual,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// Status returns the payment view of a booking for its owner.
func (s *Service) Status(ctx context.Context, callerID, bookingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.payments.Status"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if b.UserID != callerID {
		return nil, fmt.Errorf("%s: %w", op, booking.ErrNotOwner)
	}

	return b, nil
}

// webhookEnvelope is the gateway's webhook wrapper. Amounts arrive in paise.
// Current deliveries carry the payment object under "data"; older gateway
// versions used "payload", so both are accepted.
type webhookEnvelope struct {
	Event   string         `json:"event"`
	Data    webhookPayment `json:"data"`
	Payload webhookPayment `json:"payload"`
}

// payment returns the payment object from whichever key the gateway used.
func (e *webhookEnvelope) payment() webhookPayment {
	if e.Data.ID != "" || e.Data.PaymentLinkID != "" || e.Data.TransactionID != "" {
		return e.Data
	}
	return e.Payload
}

type webhookPayment struct {
	ID            string  `json:"id"`
	PaymentLinkID string  `json:"payment_link_id"`
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Notes         struct {
		EventID string `json:"eventId"`
		UserID  string `json:"userId"`
		Seats   string `json:"seats"`
	} `json:"notes"`
}

var webhookSuccessEvents = map[string]struct{}{
	"payment.success":   {},
	"payment.captured":  {},
	"payment_link.paid": {},
}

// HandleWebhook processes a gateway delivery. It is deliberately tolerant:
// any failure is logged and swallowed so the transport always acknowledges
// with 200 and the gateway does not retry-storm a bug.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte) {
	env, err := parseWebhook(raw)
	if err != nil {
		s.logger.Warn("ignoring webhook", "error", err)
		return
	}

	if _, ok := webhookSuccessEvents[env.Event]; !ok {
		s.logger.Debug("ignoring webhook event", "event", env.Event)
		return
	}

	p := env.payment()

	ref := p.PaymentLinkID
	if ref == "" {
		ref = p.TransactionID
	}
	if ref == "" {
		ref = p.ID
	}
	if ref == "" {
		s.logger.Warn("webhook has no payment reference")
		return
	}

	// Redelivery fast path: the first delivery to grab the key wins and the
	// database-level idempotency backstops a Redis outage.
	var dedupKey string
	if s.idem != nil {
		dedupKey = redisrepo.KeyIdemWebhook(ref)
		acquired, err := s.idem.AcquireLock(ctx, dedupKey, webhookDedupTTL)
		if err != nil {
			s.logger.Warn("webhook dedup unavailable, relying on conditional write", "error", err)
			dedupKey = ""
		} else if !acquired {
			s.logger.Info("duplicate webhook delivery ignored", "payment_ref", ref)
			return
		}
	}

	userID, uerr := uuid.Parse(p.Notes.UserID)
	eventID, eerr := uuid.Parse(p.Notes.EventID)
	if uerr != nil || eerr != nil {
		s.logger.Warn("webhook notes missing correlation ids", "payment_ref", ref)
		return
	}

	seats, _ := strconv.Atoi(p.Notes.Seats)

	txnID := p.TransactionID
	if txnID == "" {
		txnID = p.ID
	}

	_, transitioned, err := s.engine.Confirm(ctx, booking.Ref{UserID: userID, EventID: eventID}, booking.Evidence{
		Channel:          booking.ChannelWebhook,
		TransactionID:    txnID,
		PaymentLinkID:    p.PaymentLinkID,
		Amount:           p.Amount / 100,
		GatewayConfirmed: true,
		Seats:            seats,
		TotalAmount:      p.Amount / 100,
	})
	if err != nil {
		s.logger.Error("webhook confirmation failed",
			"payment_ref", ref, "user_id", userID, "event_id", eventID, "error", err)
		// Free the dedup key so a redelivery can retry after a transient
		// failure; the conditional write stays the real dedup guard.
		if dedupKey != "" {
			if rerr := s.idem.Release(ctx, dedupKey); rerr != nil {
				s.logger.Warn("failed to release webhook dedup key", "payment_ref", ref, "error", rerr)
			}
		}
		return
	}

	if transitioned {
		s.logger.Info("booking confirmed via webhook",
			"payment_ref", ref, "user_id", userID, "event_id", eventID)
	}
}

func parseWebhook(raw []byte) (*webhookEnvelope, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}
	if env.Event == "" {
		return nil, ErrBadWebhook
	}
	return &env, nil
}
