package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/isachinpnr/eventease/internal/config"
	"github.com/isachinpnr/eventease/internal/gateway/uropay"
	"github.com/isachinpnr/eventease/internal/notifier"
	"github.com/isachinpnr/eventease/internal/postgres"
	redisx "github.com/isachinpnr/eventease/internal/redis"
	postgresrepo "github.com/isachinpnr/eventease/internal/repository/postgres"
	redisrepo "github.com/isachinpnr/eventease/internal/repository/redis"
	"github.com/isachinpnr/eventease/internal/service"
	"github.com/isachinpnr/eventease/internal/service/booking"
	"github.com/isachinpnr/eventease/internal/service/payments"
	httpgin "github.com/isachinpnr/eventease/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	msgRouter  *message.Router
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()

	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(ctx, postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	cache := redisrepo.New(rdb)
	pubsub := redisx.NewEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "eventease:v1:rl:payments", 10, time.Minute)
	idem := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Payment gateway: degraded (direct-UPI) mode when credentials are
	// missing or still the sample placeholders.
	gateway := uropay.New(uropay.Config{
		BaseURL: cfg.UroPay.BaseURL,
		Credentials: uropay.Credentials{
			APIKey:    cfg.UroPay.APIKey,
			APISecret: cfg.UroPay.APISecret,
		},
	})
	if !gateway.Enabled() {
		logger.Warn("uropay gateway disabled, running in direct-UPI mode")
	}

	// Messaging: event bus + notifier handlers on a watermill router
	wmLogger := notifier.NewLoggerAdapter(logger)

	bus, err := notifier.NewEventBus(rdb, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	msgRouter, err := notifier.NewRouter(wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message router: %w", err)
	}

	processor, err := notifier.NewEventProcessor(msgRouter, rdb, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event processor: %w", err)
	}

	handler := notifier.NewHandler(
		&notifier.LogMailer{Logger: logger},
		&notifier.LogPushSender{Logger: logger},
		notifier.HTMLTicketRenderer{},
		cache,
		pubsub,
		logger,
	)
	if err := processor.AddHandlers(handler.All()...); err != nil {
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}

	// Initialize services
	services := service.NewServices(store, cache, idem, gateway, bus, logger, service.Config{
		Booking: booking.Config{PendingTTL: cfg.Booking.PendingTTL},
		Payments: payments.Config{
			CallbackURL: cfg.UroPay.CallbackURL,
			ReturnURL:   cfg.UroPay.ReturnURL,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(
		services,
		limiter,
		notifier.HTMLTicketRenderer{},
		httpgin.RouterConfig{
			JWTSecret:   cfg.Auth.JWTSecret,
			FrontendURL: cfg.FrontendURL,
		},
		logger,
	)

	return &App{
		cfg:       cfg,
		logger:    logger,
		msgRouter: msgRouter,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start message router
	g.Go(func() error {
		a.logger.Info("starting message router")
		return a.msgRouter.Run(gCtx)
	})

	// Start HTTP server once the router's subscriptions are live
	g.Go(func() error {
		<-a.msgRouter.Running()

		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
