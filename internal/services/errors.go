// Package services defines the business logic of the reputation engine.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into chat replies or HTTP status codes is performed by the
// command dispatcher and the handler layer respectively.
package services

import "errors"

var (
	// ErrMalformedIdentity indicates that an identity tag is not of the
	// canonical "@localpart:domain" form.
	ErrMalformedIdentity = errors.New("malformed identity tag")

	// ErrNotAdmin is returned when a caller without the Admin role invokes an
	// admin-only operation.
	ErrNotAdmin = errors.New("caller is not an admin")

	// ErrDuplicateEmoji is returned when a glyph is already registered in the
	// room.
	ErrDuplicateEmoji = errors.New("emoji already registered")

	// ErrInvalidEvent is returned when an inbound event lacks a field its
	// kind requires.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrAlreadyHandled is returned when an event id is found in the ledger.
	ErrAlreadyHandled = errors.New("event already handled")
)
