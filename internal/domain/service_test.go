package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bikecoach/internal/events"
	"example.com/bikecoach/internal/strava"
)

type stubUsers struct {
	users map[string]*User
}

func (s *stubUsers) GetUser(_ context.Context, userID string) (*User, error) {
	return s.users[userID], nil
}

func (s *stubUsers) GetUserByAthleteID(_ context.Context, athleteID int64) (*User, error) {
	for _, u := range s.users {
		if u.StravaAthleteID == athleteID {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubUsers) CreateUser(_ context.Context, user User) error {
	s.users[user.ID] = &user
	return nil
}

type stubActivities struct {
	byStravaID map[int64]*Activity
	created    []Activity
	samples    map[string][]StreamSample
	createErr  error
}

func newStubActivities() *stubActivities {
	return &stubActivities{
		byStravaID: make(map[int64]*Activity),
		samples:    make(map[string][]StreamSample),
	}
}

func (s *stubActivities) FindByStravaID(_ context.Context, stravaID int64) (*Activity, error) {
	return s.byStravaID[stravaID], nil
}

func (s *stubActivities) CreateWithStreams(_ context.Context, activity Activity, samples []StreamSample) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, activity)
	s.byStravaID[activity.StravaID] = &activity
	s.samples[activity.ID] = samples
	return nil
}

func (s *stubActivities) Get(_ context.Context, activityID string) (*Activity, error) {
	for _, a := range s.created {
		if a.ID == activityID {
			copied := a
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubActivities) ListByUser(_ context.Context, userID string, _ *Cursor, _ int) ([]Activity, *Cursor, error) {
	out := make([]Activity, 0)
	for _, a := range s.created {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil, nil
}

func (s *stubActivities) ListStreams(_ context.Context, activityID string) ([]StreamSample, error) {
	return s.samples[activityID], nil
}

type stubSource struct {
	details       map[int64]*strava.ActivityDetail
	streams       map[int64]strava.StreamSet
	summaries     []strava.ActivitySummary
	streamErr     error
	activityCalls int
	streamCalls   int
}

func (s *stubSource) Activity(_ context.Context, _ string, stravaID int64) (*strava.ActivityDetail, error) {
	s.activityCalls++
	detail, ok := s.details[stravaID]
	if !ok {
		return nil, strava.ErrRemoteUnavailable
	}
	return detail, nil
}

func (s *stubSource) Streams(_ context.Context, _ string, stravaID int64, _ []string) (strava.StreamSet, error) {
	s.streamCalls++
	if s.streamErr != nil {
		return strava.StreamSet{}, s.streamErr
	}
	return s.streams[stravaID], nil
}

func (s *stubSource) ListActivities(_ context.Context, _ string, _ time.Time) ([]strava.ActivitySummary, error) {
	return s.summaries, nil
}

type stubDispatcher struct {
	syncs     []events.SyncRequested
	backfills []events.BackfillRequested
}

func (d *stubDispatcher) EnqueueSync(_ context.Context, ev events.SyncRequested) error {
	d.syncs = append(d.syncs, ev)
	return nil
}

func (d *stubDispatcher) EnqueueBackfill(_ context.Context, ev events.BackfillRequested) error {
	d.backfills = append(d.backfills, ev)
	return nil
}

func fixtureDetail(stravaID int64, start time.Time) *strava.ActivityDetail {
	avgPower := 210.0
	return &strava.ActivityDetail{
		StravaID:    stravaID,
		Name:        "Morning Ride",
		StartTime:   start,
		DistanceM:   40000,
		MovingTimeS: 5400,
		ElevGainM:   450,
		AvgPower:    &avgPower,
	}
}

func fixtureStreams(n int) strava.StreamSet {
	set := strava.StreamSet{
		Time:   make([]int, n),
		Latlng: make([][2]float64, n),
		Watts:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		set.Time[i] = i * 2
		set.Latlng[i] = [2]float64{47.36 + float64(i)*1e-5, 8.54}
		set.Watts[i] = 200 + i%30
	}
	return set
}

func fixtureService(t *testing.T) (*Service, *stubActivities, *stubSource, *stubDispatcher) {
	t.Helper()
	users := &stubUsers{users: map[string]*User{
		"u-1": {ID: "u-1", StravaAthleteID: 9001},
	}}
	activities := newStubActivities()
	source := &stubSource{
		details: make(map[int64]*strava.ActivityDetail),
		streams: make(map[int64]strava.StreamSet),
	}
	dispatcher := &stubDispatcher{}
	return NewService(users, activities, source, dispatcher), activities, source, dispatcher
}

func TestIngestStoresActivityAndStreams(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	start := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	source.details[42] = fixtureDetail(42, start)
	source.streams[42] = fixtureStreams(100)

	id, err := svc.Ingest(context.Background(), "u-1", 42)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, activities.created, 1)
	stored := activities.created[0]
	require.Equal(t, "Morning Ride", stored.Name)
	require.EqualValues(t, 42, stored.StravaID)
	require.Equal(t, start, stored.StartTime)
	require.NotNil(t, stored.AvgPower)
	require.Nil(t, stored.AvgHR)
	require.Nil(t, stored.TSS)

	samples := activities.samples[id]
	require.Len(t, samples, 100)

	require.Equal(t, start, samples[0].Timestamp)
	require.Equal(t, start.Add(4*time.Second), samples[2].Timestamp)
	require.NotNil(t, samples[10].Lat)
	require.NotNil(t, samples[10].Watts)
	// Channels the platform never returned stay absent on every row.
	require.Nil(t, samples[10].Heartrate)
	require.Nil(t, samples[10].Altitude)
	require.Nil(t, samples[10].Moving)
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	start := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	source.details[42] = fixtureDetail(42, start)
	source.streams[42] = fixtureStreams(10)

	first, err := svc.Ingest(context.Background(), "u-1", 42)
	require.NoError(t, err)

	second, err := svc.Ingest(context.Background(), "u-1", 42)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, activities.created, 1)
	require.Equal(t, 1, source.activityCalls, "re-ingest must not refetch")
	require.Equal(t, 1, source.streamCalls)
}

func TestIngestDegradesToMetadataWhenStreamsUnavailable(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	start := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	source.details[42] = fixtureDetail(42, start)
	source.streamErr = strava.ErrRemoteUnavailable

	id, err := svc.Ingest(context.Background(), "u-1", 42)
	require.NoError(t, err)
	require.Len(t, activities.created, 1)
	require.Empty(t, activities.samples[id])
}

func TestIngestPropagatesUnexpectedStreamErrors(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	source.details[42] = fixtureDetail(42, time.Now().UTC())
	source.streamErr = errors.New("tls handshake failed")

	_, err := svc.Ingest(context.Background(), "u-1", 42)
	require.Error(t, err)
	require.Empty(t, activities.created)
}

func TestIngestUnknownUser(t *testing.T) {
	svc, _, _, _ := fixtureService(t)

	_, err := svc.Ingest(context.Background(), "missing", 42)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestIngestResolvesConcurrentDuplicate(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	start := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	source.details[42] = fixtureDetail(42, start)
	source.streams[42] = fixtureStreams(5)

	// Simulate another worker committing the same strava id between the
	// idempotency check and our insert.
	winner := Activity{ID: "winner", UserID: "u-1", StravaID: 42, StartTime: start}
	activities.createErr = ErrDuplicateActivity
	activities.byStravaID[42] = &winner

	id, err := svc.Ingest(context.Background(), "u-1", 42)
	require.NoError(t, err)
	require.Equal(t, "winner", id)
}

func TestBackfillSkipsUnavailableActivities(t *testing.T) {
	svc, activities, source, _ := fixtureService(t)

	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	source.details[1] = fixtureDetail(1, start)
	source.details[3] = fixtureDetail(3, start.AddDate(0, 0, 2))
	// strava id 2 has no detail: the source reports it unavailable.
	source.summaries = []strava.ActivitySummary{
		{StravaID: 1}, {StravaID: 2}, {StravaID: 3},
	}
	source.streams[1] = fixtureStreams(5)
	source.streams[3] = fixtureStreams(5)

	require.NoError(t, svc.Backfill(context.Background(), "u-1", start.AddDate(0, 0, -30)))
	require.Len(t, activities.created, 2)
}

func TestRequestSyncEnqueues(t *testing.T) {
	svc, _, _, dispatcher := fixtureService(t)

	require.NoError(t, svc.RequestSync(context.Background(), "u-1", 42, "webhook"))
	require.Len(t, dispatcher.syncs, 1)
	require.Equal(t, "u-1", dispatcher.syncs[0].UserID)
	require.EqualValues(t, 42, dispatcher.syncs[0].StravaActivityID)
	require.Equal(t, "webhook", dispatcher.syncs[0].Source)

	require.ErrorIs(t, svc.RequestSync(context.Background(), "missing", 42, "webhook"), ErrUserNotFound)
}

func TestRequestBackfillDefaultsWindow(t *testing.T) {
	svc, _, _, dispatcher := fixtureService(t)

	require.NoError(t, svc.RequestBackfill(context.Background(), "u-1", 0))
	require.Len(t, dispatcher.backfills, 1)

	ev := dispatcher.backfills[0]
	require.InDelta(t, 30*24, ev.RequestedAt.Sub(ev.After).Hours(), 1)
}

func TestResolveAthlete(t *testing.T) {
	svc, _, _, _ := fixtureService(t)

	user, err := svc.ResolveAthlete(context.Background(), 9001)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "u-1", user.ID)

	unknown, err := svc.ResolveAthlete(context.Background(), 12345)
	require.NoError(t, err)
	require.Nil(t, unknown)
}

func TestBuildSamplesRequiresTimeAndLatlng(t *testing.T) {
	set := strava.StreamSet{Time: []int{0, 1, 2}}
	require.Nil(t, buildSamples("a-1", time.Now(), set))

	set.Latlng = make([][2]float64, 2) // length mismatch
	require.Nil(t, buildSamples("a-1", time.Now(), set))
}

func TestBuildSamplesDerivesDistance(t *testing.T) {
	start := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	set := strava.StreamSet{
		Time:           []int{0, 2, 5},
		Latlng:         [][2]float64{{1, 2}, {1, 2}, {1, 2}},
		VelocitySmooth: []float64{0, 8, 10},
	}

	samples := buildSamples("a-1", start, set)
	require.Len(t, samples, 3)
	require.InDelta(t, 0.0, *samples[0].DistanceM, 1e-9)
	require.InDelta(t, 16.0, *samples[1].DistanceM, 1e-9) // 2s at 8 m/s
	require.InDelta(t, 30.0, *samples[2].DistanceM, 1e-9) // 3s at 10 m/s
}
