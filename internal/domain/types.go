package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "Pending"
	BookingConfirmed BookingStatus = "Confirmed"
	BookingCancelled BookingStatus = "Cancelled"
	BookingFailed    BookingStatus = "Failed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type EventStatus string

const (
	EventUpcoming  EventStatus = "Upcoming"
	EventOngoing   EventStatus = "Ongoing"
	EventCompleted EventStatus = "Completed"
)

// Seats per booking are capped at two.
const (
	MinSeatsPerBooking = 1
	MaxSeatsPerBooking = 2
)

type Event struct {
	ID          uuid.UUID   `json:"id"`
	Code        string      `json:"eventId"`
	Title       string      `json:"title"`
	Category    string      `json:"category"`
	Location    string      `json:"location"`
	Venue       string      `json:"venue"`
	Date        time.Time   `json:"date"`
	Time        string      `json:"time"`
	Capacity    int         `json:"capacity"`
	BookedSeats int         `json:"bookedSeats"`
	Price       float64     `json:"price"`
	Status      EventStatus `json:"status"`
}

type Booking struct {
	ID              uuid.UUID     `json:"id"`
	UserID          uuid.UUID     `json:"userId"`
	EventID         uuid.UUID     `json:"eventId"`
	Seats           int           `json:"seats"`
	TotalAmount     float64       `json:"totalAmount"`
	Status          BookingStatus `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentID       string        `json:"paymentId,omitempty"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

type BookingWithEvent struct {
	Booking
	Event Event `json:"event"`
}
