package httpgin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/isachinpnr/eventease/internal/domain"
	redisrepo "github.com/isachinpnr/eventease/internal/repository/redis"
	"github.com/isachinpnr/eventease/internal/service"
	"github.com/isachinpnr/eventease/internal/service/booking"
	"github.com/isachinpnr/eventease/internal/service/payments"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// TicketRenderer produces the base64 confirmation attached to booking
// responses.
type TicketRenderer interface {
	Render(ctx context.Context, bookingID, eventID uuid.UUID, seats int, amount float64) (string, error)
}

type RouterConfig struct {
	JWTSecret   string
	FrontendURL string
}

func NewRouter(
	svcs *service.Services,
	limiter *redisrepo.SlidingWindowLimiter,
	renderer TicketRenderer,
	cfg RouterConfig,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS(cfg.FrontendURL))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// Public API
	api.GET("/events", handleListEvents(svcs))
	api.GET("/events/:id", handleGetEvent(svcs))

	// The gateway authenticates deliveries with its own signature scheme, not
	// user tokens, so the webhook stays outside the auth group.
	api.POST("/payments/webhook", handleWebhook(svcs))

	auth := api.Group("", AuthMiddleware(cfg.JWTSecret))
	{
		auth.POST("/bookings", handleCreateBooking(svcs, renderer))
		auth.GET("/bookings", handleListMyBookings(svcs))
		auth.GET("/bookings/:id", handleGetBooking(svcs))
		auth.PUT("/bookings/:id/cancel", handleCancelBooking(svcs))

		pay := auth.Group("/payments")
		{
			pay.POST("/create-payment", RateLimitMiddleware(limiter), handleCreatePayment(svcs))
			pay.POST("/verify", handleVerifyPayment(svcs, renderer))
			pay.POST("/check-payment", handleCheckPayment(svcs))
			pay.POST("/confirm-payment", handleConfirmSelf(svcs, renderer))
			pay.POST("/manual-verify", AdminOnly(), handleManualVerify(svcs))
			pay.GET("/status/:bookingId", handleGetPaymentStatus(svcs))
		}
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List events
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200  {array}   query.EventSummary
// @Router   /api/events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 20)
		offset := parseIntDefault(c.Query("offset"), 0)

		events, err := svcs.Query.ListEvents(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, events, "public, max-age=15", true)
	}
}

// @Summary  Get event
// @Param    id  path  string  true  "Event ID (uuid)"
// @Success  200  {object}  query.EventSummary
// @Failure  404  {object}  ErrorResponse
// @Router   /api/events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Create booking for a free event
// @Param    req body  CreateBookingRequest true "payload"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /api/bookings [post]
func handleCreateBooking(svcs *service.Services, renderer TicketRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			badRequest(c, "invalid eventId")
			return
		}

		b, err := svcs.Booking.CreateFreeBooking(c.Request.Context(), p.ID, eventID, req.Seats)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, bookingResponse(c, renderer, b))
	}
}

// @Summary  List my bookings
// @Success  200 {array} domain.BookingWithEvent
// @Router   /api/bookings [get]
func handleListMyBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		out, err := svcs.Query.ListUserBookings(c.Request.Context(), p.ID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Router   /api/bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Query.GetBooking(c.Request.Context(), p.ID, p.IsAdmin(), bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Cancel booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /api/bookings/{id}/cancel [put]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Booking.Cancel(c.Request.Context(), p.ID, bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Create payment intent (idempotent via Idempotency-Key)
// @Param    req body  CreatePaymentRequest true "payload"
// @Success  201 {object} payments.Intent
// @Failure  409 {object} ErrorResponse
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /api/payments/create-payment [post]
func handleCreatePayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		var req CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			badRequest(c, "invalid eventId")
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

		intent, err := svcs.Payments.CreatePayment(c.Request.Context(), payments.Payer{
			ID:      p.ID,
			Name:    p.Name,
			Email:   p.Email,
			Contact: req.Contact,
		}, eventID, req.Seats, idemKey)
		if err != nil {
			respondErr(c, err)
			return
		}

		if idemKey != "" {
			c.Header("Idempotency-Key", idemKey)
		}
		c.JSON(http.StatusCreated, intent)
	}
}

// @Summary  Verify payment with client-side evidence
// @Param    req body  VerifyPaymentRequest true "payload"
// @Success  200 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Router   /api/payments/verify [post]
func handleVerifyPayment(svcs *service.Services, renderer TicketRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		var req VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		b, err := svcs.Payments.Verify(c.Request.Context(), p.ID, payments.VerifyRequest{
			BookingID:     parseUUIDOrNil(req.BookingID),
			EventID:       parseUUIDOrNil(req.EventID),
			TransactionID: req.TransactionID,
			PaymentLinkID: req.PaymentLinkID,
			Amount:        req.Amount,
			Seats:         req.Seats,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, bookingResponse(c, renderer, b))
	}
}

// @Summary  Poll payment link status
// @Param    req body  CheckPaymentRequest true "payload"
// @Success  200 {object} payments.CheckResult
// @Router   /api/payments/check-payment [post]
func handleCheckPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		var req CheckPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.Payments.CheckPayment(
			c.Request.Context(), p.ID, parseUUIDOrNil(req.BookingID), req.PaymentLinkID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Self-confirm a direct-UPI payment
// @Param    req body  ConfirmPaymentRequest true "payload"
// @Success  200 {object} BookingResponse
// @Router   /api/payments/confirm-payment [post]
func handleConfirmSelf(svcs *service.Services, renderer TicketRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		var req ConfirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		b, err := svcs.Payments.ConfirmSelf(c.Request.Context(), p.ID, parseUUIDOrNil(req.BookingID))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, bookingResponse(c, renderer, b))
	}
}

// @Summary  Manually verify a payment (admin)
// @Param    req body  ManualVerifyRequest true "payload"
// @Success  200 {object} domain.Booking
// @Failure  403 {object} ErrorResponse
// @Router   /api/payments/manual-verify [post]
func handleManualVerify(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		b, err := svcs.Payments.ManualVerify(c.Request.Context(), payments.ManualVerifyRequest{
			BookingID:     parseUUIDOrNil(req.BookingID),
			UserID:        parseUUIDOrNil(req.UserID),
			EventID:       parseUUIDOrNil(req.EventID),
			TransactionID: req.TransactionID,
			Amount:        req.Amount,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Payment status for a booking
// @Param    bookingId  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Router   /api/payments/status/{bookingId} [get]
func handleGetPaymentStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		bookingID, ok := parseUUIDParam(c, "bookingId")
		if !ok {
			return
		}

		b, err := svcs.Payments.Status(c.Request.Context(), p.ID, bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"bookingId":     b.ID,
			"status":        b.Status,
			"paymentStatus": b.PaymentStatus,
			"paymentId":     b.PaymentID,
		})
	}
}

// @Summary  Gateway webhook
// @Success  200 {object} map[string]string
// @Router   /api/payments/webhook [post]
func handleWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err == nil {
			// Bounded handling: the gateway retries on non-2xx, so a failure
			// inside must never surface as an error status.
			ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
			defer cancel()
			svcs.Payments.HandleWebhook(ctx, raw)
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// --- Helpers ---

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDOrNil(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// bookingResponse attaches the rendered confirmation to booking payloads.
// Rendering is best-effort: a renderer failure drops the attachment only.
func bookingResponse(c *gin.Context, renderer TicketRenderer, b *domain.Booking) BookingResponse {
	resp := BookingResponse{Booking: b}

	if renderer != nil && b != nil && b.Status == domain.BookingConfirmed {
		pdf, err := renderer.Render(c.Request.Context(), b.ID, b.EventID, b.Seats, b.TotalAmount)
		if err == nil {
			resp.PDFConfirmation = pdf
		}
	}

	return resp
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	case errors.Is(err, booking.ErrEventNotFound),
		errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: unwrapMsg(err)})
	case errors.Is(err, booking.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: unwrapMsg(err)})
	case errors.Is(err, booking.ErrInvalidSeats),
		errors.Is(err, booking.ErrPaidEvent),
		errors.Is(err, booking.ErrAmountMismatch),
		errors.Is(err, booking.ErrPaymentNotVerified),
		errors.Is(err, payments.ErrMissingReference):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: unwrapMsg(err)})
	case errors.Is(err, booking.ErrEventStarted),
		errors.Is(err, booking.ErrAlreadyBooked),
		errors.Is(err, booking.ErrNoCapacity),
		errors.Is(err, booking.ErrAlreadyCancelled),
		errors.Is(err, booking.ErrNotPending),
		errors.Is(err, payments.ErrInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: unwrapMsg(err)})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// unwrapMsg strips the op-wrapping prefix so clients see the sentinel text.
func unwrapMsg(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return msg
}
