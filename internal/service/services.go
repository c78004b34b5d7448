package service

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/isachinpnr/eventease/internal/gateway/uropay"
	postgres "github.com/isachinpnr/eventease/internal/repository/postgres"
	redis "github.com/isachinpnr/eventease/internal/repository/redis"
	"github.com/isachinpnr/eventease/internal/service/booking"
	"github.com/isachinpnr/eventease/internal/service/payments"
	"github.com/isachinpnr/eventease/internal/service/query"
)

type Services struct {
	Booking  *booking.Service
	Payments *payments.Service
	Query    *query.Service
}

type Config struct {
	Booking  booking.Config
	Payments payments.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	idem *redis.IdempotencyStore,
	gateway *uropay.Client,
	bus *cqrs.EventBus,
	logger *slog.Logger,
	cfg Config,
) *Services {
	bookingSvc := booking.New(
		store.Events(),
		store.Bookings(),
		bus,
		gateway,
		logger,
		cfg.Booking,
	)

	return &Services{
		Booking:  bookingSvc,
		Payments: payments.New(bookingSvc, gateway, store.Bookings(), idem, logger, cfg.Payments),
		Query:    query.New(store.Events(), store.Bookings(), cache, logger),
	}
}
