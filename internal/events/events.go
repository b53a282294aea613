// Package events defines the payloads carried through the dispatch queue.
package events

import "time"

// SyncRequested asks the worker to ingest a single Strava activity for a user.
type SyncRequested struct {
	UserID           string `json:"user_id"`
	StravaActivityID int64  `json:"strava_activity_id"`
	Source           string `json:"source"`
}

// BackfillRequested asks the worker to ingest every activity recorded after the cutoff.
type BackfillRequested struct {
	UserID      string    `json:"user_id"`
	After       time.Time `json:"after"`
	RequestedAt time.Time `json:"requested_at"`
}

// RecalcRequested triggers a full rebuild of a user's daily training-load series.
type RecalcRequested struct {
	UserID     string    `json:"user_id"`
	ActivityID string    `json:"activity_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
