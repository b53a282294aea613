// Package domain implements the activity ingestion pipeline and read paths.
package domain

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/bikecoach/internal/events"
	"example.com/bikecoach/internal/observability"
	"example.com/bikecoach/internal/strava"
)

// ActivitySource fetches ride data from the external platform.
type ActivitySource interface {
	Activity(ctx context.Context, userID string, stravaID int64) (*strava.ActivityDetail, error)
	Streams(ctx context.Context, userID string, stravaID int64, keys []string) (strava.StreamSet, error)
	ListActivities(ctx context.Context, userID string, after time.Time) ([]strava.ActivitySummary, error)
}

// Dispatcher enqueues work for asynchronous execution. Enqueue failures are
// fatal to the enqueuing request path.
type Dispatcher interface {
	EnqueueSync(ctx context.Context, ev events.SyncRequested) error
	EnqueueBackfill(ctx context.Context, ev events.BackfillRequested) error
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithLogger overrides the logger used for degraded-path reporting.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates fetch, transform, and store for activities.
type Service struct {
	users      UserRepository
	activities ActivityRepository
	source     ActivitySource
	dispatcher Dispatcher
	logger     *log.Logger
}

// NewService constructs a Service.
func NewService(users UserRepository, activities ActivityRepository, source ActivitySource, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		users:      users,
		activities: activities,
		source:     source,
		dispatcher: dispatcher,
		logger:     log.New(log.Writer(), "[ingest] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest fetches one Strava activity with its streams and stores them.
// Re-ingesting an already stored strava id is a pure lookup: no external I/O
// happens and the existing identifier is returned.
func (s *Service) Ingest(ctx context.Context, userID string, stravaID int64) (string, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	if existing, err := s.activities.FindByStravaID(ctx, stravaID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, nil
	}

	detail, err := s.source.Activity(ctx, user.ID, stravaID)
	if err != nil {
		return "", err
	}

	activity := Activity{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		StravaID:        stravaID,
		Name:            detail.Name,
		StartTime:       detail.StartTime.UTC(),
		DistanceM:       detail.DistanceM,
		MovingTimeS:     detail.MovingTimeS,
		ElevGainM:       detail.ElevGainM,
		AvgPower:        detail.AvgPower,
		AvgHR:           detail.AvgHR,
		NormalizedPower: detail.NormalizedPower,
		CreatedAt:       time.Now().UTC(),
	}

	var samples []StreamSample
	set, err := s.source.Streams(ctx, user.ID, stravaID, strava.StreamKeys)
	if err != nil {
		if errors.Is(err, strava.ErrRemoteUnavailable) {
			// Telemetry absence degrades gracefully: store metadata only.
			s.logger.Printf("stream fetch failed (strava_id=%d): %v", stravaID, err)
		} else {
			return "", err
		}
	} else {
		samples = buildSamples(activity.ID, activity.StartTime, set)
	}

	if err := s.activities.CreateWithStreams(ctx, activity, samples); err != nil {
		if errors.Is(err, ErrDuplicateActivity) {
			// A concurrent ingest for the same strava id committed first.
			existing, lookupErr := s.activities.FindByStravaID(ctx, stravaID)
			if lookupErr != nil {
				return "", lookupErr
			}
			if existing != nil {
				return existing.ID, nil
			}
		}
		return "", err
	}

	observability.RecordActivityIngested(activity.CreatedAt, len(samples))
	return activity.ID, nil
}

// RequestSync enqueues ingestion of a single activity.
func (s *Service) RequestSync(ctx context.Context, userID string, stravaID int64, source string) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	return s.dispatcher.EnqueueSync(ctx, events.SyncRequested{
		UserID:           userID,
		StravaActivityID: stravaID,
		Source:           source,
	})
}

// RequestBackfill enqueues ingestion of every activity newer than daysBack days.
func (s *Service) RequestBackfill(ctx context.Context, userID string, daysBack int) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	if daysBack <= 0 {
		daysBack = 30
	}
	now := time.Now().UTC()
	return s.dispatcher.EnqueueBackfill(ctx, events.BackfillRequested{
		UserID:      userID,
		After:       now.AddDate(0, 0, -daysBack),
		RequestedAt: now,
	})
}

// Backfill ingests every activity started after the cutoff, one by one.
// Already stored activities short-circuit inside Ingest, so replays are cheap.
func (s *Service) Backfill(ctx context.Context, userID string, after time.Time) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}

	summaries, err := s.source.ListActivities(ctx, userID, after)
	if err != nil {
		return err
	}

	for _, summary := range summaries {
		if _, err := s.Ingest(ctx, userID, summary.StravaID); err != nil {
			if errors.Is(err, strava.ErrRemoteUnavailable) {
				s.logger.Printf("backfill skipped activity (strava_id=%d): %v", summary.StravaID, err)
				continue
			}
			return err
		}
	}
	return nil
}

// ResolveAthlete maps a Strava athlete id to the internal user, if known.
func (s *Service) ResolveAthlete(ctx context.Context, athleteID int64) (*User, error) {
	return s.users.GetUserByAthleteID(ctx, athleteID)
}

// GetActivity fetches one activity by internal id.
func (s *Service) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches a user's activities, start time descending, with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.activities.ListByUser(ctx, userID, cursor, limit)
}

// ListStreams fetches an activity's stream samples ordered by timestamp.
func (s *Service) ListStreams(ctx context.Context, activityID string) ([]StreamSample, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return s.activities.ListStreams(ctx, activityID)
}

func (s *Service) ensureUser(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	return nil
}

// buildSamples maps parallel stream channels into rows. The time and latlng
// channels are mandatory; without both, no rows are built. Optional channels
// behave as all-absent arrays of the time channel's length.
func buildSamples(activityID string, start time.Time, set strava.StreamSet) []StreamSample {
	if len(set.Time) == 0 || len(set.Latlng) != len(set.Time) {
		return nil
	}

	samples := make([]StreamSample, 0, len(set.Time))
	prevOffset := 0
	for i, offset := range set.Time {
		sample := StreamSample{
			ID:         uuid.NewString(),
			ActivityID: activityID,
			Timestamp:  start.Add(time.Duration(offset) * time.Second),
			Lat:        ptrFloat(set.Latlng[i][0]),
			Lon:        ptrFloat(set.Latlng[i][1]),
		}

		if i < len(set.Altitude) {
			sample.Altitude = ptrFloat(set.Altitude[i])
		}
		if i < len(set.VelocitySmooth) {
			sample.VelocitySmooth = ptrFloat(set.VelocitySmooth[i])
			// Elapsed seconds times instantaneous velocity, not a path
			// integral. Matches the upstream calculation; see DESIGN.md.
			sample.DistanceM = ptrFloat(float64(offset-prevOffset) * set.VelocitySmooth[i])
		}
		if i < len(set.Heartrate) {
			sample.Heartrate = ptrInt(set.Heartrate[i])
		}
		if i < len(set.Cadence) {
			sample.Cadence = ptrInt(set.Cadence[i])
		}
		if i < len(set.Watts) {
			sample.Watts = ptrInt(set.Watts[i])
		}
		if i < len(set.Temp) {
			sample.Temp = ptrFloat(set.Temp[i])
		}
		if i < len(set.Moving) {
			flag := int16(0)
			if set.Moving[i] {
				flag = 1
			}
			sample.Moving = &flag
		}
		if i < len(set.GradeSmooth) {
			sample.GradeSmooth = ptrFloat(set.GradeSmooth[i])
		}

		samples = append(samples, sample)
		prevOffset = offset
	}
	return samples
}

func ptrFloat(v float64) *float64 { return &v }

func ptrInt(v int) *int { return &v }
