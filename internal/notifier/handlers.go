package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/isachinpnr/eventease/internal/domain"
	redisx "github.com/isachinpnr/eventease/internal/redis"
	redisrepo "github.com/isachinpnr/eventease/internal/repository/redis"
)

type Handler struct {
	mailer   Mailer
	push     PushSender
	renderer TicketRenderer
	cache    *redisrepo.Cache
	pubsub   *redisx.EventsPubSub
	logger   *slog.Logger
}

func NewHandler(
	mailer Mailer,
	push PushSender,
	renderer TicketRenderer,
	cache *redisrepo.Cache,
	pubsub *redisx.EventsPubSub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		mailer:   mailer,
		push:     push,
		renderer: renderer,
		cache:    cache,
		pubsub:   pubsub,
		logger:   logger,
	}
}

// All returns every handler for processor registration.
func (h *Handler) All() []cqrs.EventHandler {
	return []cqrs.EventHandler{
		h.ConfirmationEmailHandler(),
		h.ConfirmationPushHandler(),
		h.CancellationEmailHandler(),
		h.InvalidateOnConfirmedHandler(),
		h.InvalidateOnCancelledHandler(),
	}
}

func (h *Handler) ConfirmationEmailHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"confirmation_email_handler",
		func(ctx context.Context, payload *domain.BookingConfirmed_v1) error {
			ticket, err := h.renderer.Render(ctx, payload.BookingID, payload.EventID, payload.Seats, payload.TotalAmount)
			if err != nil {
				return fmt.Errorf("render ticket: %w", err)
			}

			return h.mailer.SendBookingConfirmed(ctx, payload.UserID, payload.BookingID, ticket)
		},
	)
}

func (h *Handler) ConfirmationPushHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"confirmation_push_handler",
		func(ctx context.Context, payload *domain.BookingConfirmed_v1) error {
			body := fmt.Sprintf("Your booking for %d seat(s) is confirmed.", payload.Seats)
			return h.push.Send(ctx, payload.UserID, "Booking confirmed", body)
		},
	)
}

func (h *Handler) CancellationEmailHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"cancellation_email_handler",
		func(ctx context.Context, payload *domain.BookingCancelled_v1) error {
			return h.mailer.SendBookingCancelled(ctx, payload.UserID, payload.BookingID, payload.Refunded)
		},
	)
}

// InvalidateOnConfirmedHandler drops the event's cached summary after its
// seat counter moved and fans the change out to live subscribers.
func (h *Handler) InvalidateOnConfirmedHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"invalidate_event_on_confirmed_handler",
		func(ctx context.Context, payload *domain.BookingConfirmed_v1) error {
			return h.invalidate(ctx, payload.EventID.String())
		},
	)
}

func (h *Handler) InvalidateOnCancelledHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"invalidate_event_on_cancelled_handler",
		func(ctx context.Context, payload *domain.BookingCancelled_v1) error {
			return h.invalidate(ctx, payload.EventID.String())
		},
	)
}

func (h *Handler) invalidate(ctx context.Context, eventID string) error {
	if err := h.cache.InvalidateEvent(ctx, eventID); err != nil {
		return fmt.Errorf("invalidate event cache: %w", err)
	}

	if h.pubsub != nil {
		if err := h.pubsub.PublishEventChanged(ctx, eventID); err != nil {
			// Live subscribers refresh on their own poll cadence anyway.
			h.logger.Warn("failed to publish event change", "event_id", eventID, "error", err)
		}
	}

	return nil
}
