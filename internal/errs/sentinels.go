// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/service/session layers.
var (
	// ErrNotFound indicates the requested record or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed credential verification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated indicates an operation that needs a live session was called without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidRole indicates a session role outside admin/clinic.
	ErrInvalidRole = errors.New("invalid role")

	// ErrOffline indicates connectivity is down, so the remote service was not contacted.
	ErrOffline = errors.New("offline")

	// ErrUnknownCollection indicates a collection name that is not tracked.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., duplicate control number).
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed indicates use of a component after Close.
	ErrClosed = errors.New("closed")

	// ErrRateLimited indicates too many failed login attempts for an identity.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidArgument indicates a malformed request (unknown column, empty id).
	ErrInvalidArgument = errors.New("invalid argument")
)
