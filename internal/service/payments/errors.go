package payments

import "errors"

var (
	ErrMissingReference = errors.New("payment reference is required")
	ErrInProgress       = errors.New("payment request already in progress")
	ErrBadWebhook       = errors.New("unrecognized webhook payload")
)
