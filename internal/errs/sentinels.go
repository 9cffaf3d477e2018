// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates malformed input or a violated invariant (e.g. empty owner set).
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an authenticated caller without access to the page.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates a missing or invalid credential where one is required.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConflict indicates a lost create race, a taken slug or an already redeemed invite.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates a transient document store failure; callers may retry.
	ErrUnavailable = errors.New("unavailable")

	// ErrRateLimited indicates temporary lock of invite acceptance attempts.
	ErrRateLimited = errors.New("rate limited")
)

// ErrPendingDeletion rejects writes to a soft-deleted page. It matches ErrValidation.
var ErrPendingDeletion = fmt.Errorf("%w: page is pending deletion", ErrValidation)
