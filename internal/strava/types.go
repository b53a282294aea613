package strava

import "time"

// ActivityDetail is the subset of Strava's detailed activity representation
// that the ingestion pipeline maps onto an Activity row.
type ActivityDetail struct {
	StravaID        int64
	Name            string
	StartTime       time.Time
	DistanceM       float64
	MovingTimeS     int
	ElevGainM       float64
	AvgPower        *float64
	AvgHR           *float64
	NormalizedPower *float64
}

// ActivitySummary is one entry from the paginated athlete activity listing.
type ActivitySummary struct {
	StravaID  int64
	Name      string
	StartTime time.Time
}

// StreamSet holds the parallel stream channels returned for one activity.
// A nil slice means the source has no data for that channel. Non-nil channels
// share the length of Time.
type StreamSet struct {
	Time           []int
	Latlng         [][2]float64
	Altitude       []float64
	VelocitySmooth []float64
	Heartrate      []int
	Cadence        []int
	Watts          []int
	Temp           []float64
	Moving         []bool
	GradeSmooth    []float64
}

// StreamKeys is the channel list requested during ingestion. Time and latlng
// are mandatory for stream construction; the rest degrade to absent.
var StreamKeys = []string{
	"time", "latlng", "altitude", "velocity_smooth",
	"heartrate", "cadence", "watts", "temp", "moving", "grade_smooth",
}
