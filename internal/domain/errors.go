package domain

import "errors"

var (
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrDuplicateActivity indicates a concurrent ingest won the strava_id
	// uniqueness race; callers resolve it by re-reading the existing row.
	ErrDuplicateActivity = errors.New("activity already exists for strava id")
)
