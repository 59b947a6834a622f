// Package services defines the business logic of the expense intake
// pipeline. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer; mapping
// into user-facing reply templates or HTTP status codes is performed at the
// pipeline/handler layer. None of them ever carries provider or database
// detail that could leak to an end user.
package services

import "errors"

var (
	// ErrNotWhitelisted indicates a definitive rejection: the sender's
	// external id is not in the whitelist. Distinct from ErrAuthUnavailable.
	ErrNotWhitelisted = errors.New("sender not whitelisted")

	// ErrAuthUnavailable indicates the whitelist check itself could not be
	// performed (connectivity). It must never be collapsed into a rejection.
	ErrAuthUnavailable = errors.New("authorization check unavailable")

	// ErrEmptyMessage is returned when an inbound message is blank after
	// trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when an inbound message exceeds the
	// configured length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
)
