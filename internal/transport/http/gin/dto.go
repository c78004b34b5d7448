package httpgin

import (
	"github.com/isachinpnr/eventease/internal/domain"
)

type CreateBookingRequest struct {
	EventID string `json:"eventId" binding:"required,uuid"`
	Seats   int    `json:"seats" binding:"required,min=1"`
}

type CreatePaymentRequest struct {
	EventID string `json:"eventId" binding:"required,uuid"`
	Seats   int    `json:"seats" binding:"required,min=1"`
	Contact string `json:"contact"`
}

type VerifyPaymentRequest struct {
	BookingID     string  `json:"bookingId"`
	EventID       string  `json:"eventId"`
	TransactionID string  `json:"transactionId"`
	PaymentLinkID string  `json:"paymentLinkId"`
	Amount        float64 `json:"amount"`
	Seats         int     `json:"seats"`
}

type CheckPaymentRequest struct {
	BookingID     string `json:"bookingId" binding:"required,uuid"`
	PaymentLinkID string `json:"paymentLinkId"`
}

type ConfirmPaymentRequest struct {
	BookingID string `json:"bookingId" binding:"required,uuid"`
}

type ManualVerifyRequest struct {
	BookingID     string  `json:"bookingId"`
	UserID        string  `json:"userId"`
	EventID       string  `json:"eventId"`
	TransactionID string  `json:"transactionId" binding:"required"`
	Amount        float64 `json:"amount"`
}

type BookingResponse struct {
	Booking         *domain.Booking `json:"booking"`
	PDFConfirmation string          `json:"pdfConfirmation,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
