package domain

import "errors"

var (
	// ErrRateLimited marks a remote failure caused by provider rate limiting.
	// Callers back off instead of retrying on the next tick.
	ErrRateLimited = errors.New("rate limited")

	ErrUnknownNetwork        = errors.New("unknown network")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrPollingAlreadyStarted = errors.New("polling already started")
)
