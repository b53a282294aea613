package domain

import (
	"context"
	"time"
)

// Activity is one ride as stored in Postgres. Telemetry averages are nullable
// because Strava omits them for rides recorded without the matching sensor.
type Activity struct {
	ID              string
	UserID          string
	StravaID        int64
	Name            string
	StartTime       time.Time
	DistanceM       float64
	MovingTimeS     int
	ElevGainM       float64
	AvgPower        *float64
	AvgHR           *float64
	TSS             *float64
	NormalizedPower *float64
	CreatedAt       time.Time
}

// StreamSample is one timestamped telemetry point within an activity.
// Moving is the source's boolean flag encoded as 0/1.
type StreamSample struct {
	ID             string
	ActivityID     string
	Timestamp      time.Time
	Lat            *float64
	Lon            *float64
	Altitude       *float64
	DistanceM      *float64
	VelocitySmooth *float64
	Heartrate      *int
	Cadence        *int
	Watts          *int
	Temp           *float64
	Moving         *int16
	GradeSmooth    *float64
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartTime time.Time
	ID        string
}

// ActivityRepository captures persistence operations for activities and their streams.
type ActivityRepository interface {
	FindByStravaID(ctx context.Context, stravaID int64) (*Activity, error)
	// CreateWithStreams persists the activity, bulk-inserts its stream samples,
	// and records the training-load recalc event in a single transaction.
	CreateWithStreams(ctx context.Context, activity Activity, samples []StreamSample) error
	Get(ctx context.Context, activityID string) (*Activity, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	ListStreams(ctx context.Context, activityID string) ([]StreamSample, error)
}
