package repository

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrCapacityExceeded = errors.New("not enough seats available")
	ErrNotPending       = errors.New("booking is not pending")
	ErrNotConfirmed     = errors.New("booking is not confirmed")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
)
