package biz

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks transport, auth, or malformed-query failures of
// the persistence layer. Resolution aborts and no default is substituted;
// callers decide fallback policy, which defaults to deny.
var ErrStoreUnavailable = errors.New("entitlement store unavailable")

// ErrMutationConflict is returned when a write lost every retry against
// concurrent mutations of the same tenant. It belongs to the
// store-unavailable class so callers can handle both with one errors.Is.
var ErrMutationConflict = fmt.Errorf("mutation conflict: %w", ErrStoreUnavailable)

// ErrInvalidTier is returned when a mutation names a tier outside [0, 4].
var ErrInvalidTier = errors.New("tier out of range")

// ErrUnknownFeature is returned when an override mutation names a feature
// the catalog does not contain.
var ErrUnknownFeature = errors.New("unknown feature")
