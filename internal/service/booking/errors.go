package booking

import "errors"

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidSeats       = errors.New("you can book 1-2 seats only")
	ErrEventStarted       = errors.New("event has already started")
	ErrAlreadyBooked      = errors.New("you already have a confirmed booking for this event")
	ErrNoCapacity         = errors.New("not enough seats available")
	ErrNotOwner           = errors.New("not authorized")
	ErrAlreadyCancelled   = errors.New("booking already cancelled")
	ErrNotPending         = errors.New("booking cannot be confirmed in its current state")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrPaymentNotVerified = errors.New("payment verification failed")
	ErrPaidEvent          = errors.New("event is not free, use the payment flow")
)
