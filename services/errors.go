package services

import "errors"

var (
	// ErrNotFound means a referenced user, achievement, submission or tier does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned before any mutation for negative or otherwise unusable amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentUpdate means the profile changed between read and write.
	// Callers see it only after every retry lost the race.
	ErrConcurrentUpdate = errors.New("concurrent profile update")

	// ErrTierOverlap rejects a ranking tier whose interval intersects another tier.
	ErrTierOverlap = errors.New("ranking tier overlaps an existing tier")
)
