package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/bikecoach/internal/analytics"
	"example.com/bikecoach/internal/auth"
	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/events"
	"example.com/bikecoach/internal/strava"
)

type fakeStore struct {
	users      map[string]*domain.User
	activities map[string]*domain.Activity
	samples    map[string][]domain.StreamSample
	syncs      []events.SyncRequested
	backfills  []events.BackfillRequested
	loads      []analytics.DailyLoad
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]*domain.User),
		activities: make(map[string]*domain.Activity),
		samples:    make(map[string][]domain.StreamSample),
	}
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	return f.users[id], nil
}

func (f *fakeStore) GetUserByAthleteID(_ context.Context, athleteID int64) (*domain.User, error) {
	for _, u := range f.users {
		if u.StravaAthleteID == athleteID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user domain.User) error {
	f.users[user.ID] = &user
	return nil
}

func (f *fakeStore) FindByStravaID(_ context.Context, stravaID int64) (*domain.Activity, error) {
	for _, a := range f.activities {
		if a.StravaID == stravaID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateWithStreams(_ context.Context, activity domain.Activity, samples []domain.StreamSample) error {
	f.activities[activity.ID] = &activity
	f.samples[activity.ID] = samples
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*domain.Activity, error) {
	return f.activities[id], nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID string, _ *domain.Cursor, _ int) ([]domain.Activity, *domain.Cursor, error) {
	out := make([]domain.Activity, 0)
	for _, a := range f.activities {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil, nil
}

func (f *fakeStore) ListStreams(_ context.Context, id string) ([]domain.StreamSample, error) {
	return f.samples[id], nil
}

func (f *fakeStore) EnqueueSync(_ context.Context, ev events.SyncRequested) error {
	f.syncs = append(f.syncs, ev)
	return nil
}

func (f *fakeStore) EnqueueBackfill(_ context.Context, ev events.BackfillRequested) error {
	f.backfills = append(f.backfills, ev)
	return nil
}

func (f *fakeStore) ActivityStress(context.Context, string) ([]analytics.ActivityStress, error) {
	return nil, nil
}

func (f *fakeStore) ReplaceDailyLoad(_ context.Context, _ string, days []analytics.DailyLoad) error {
	f.loads = days
	return nil
}

func (f *fakeStore) DailyLoad(context.Context, string, time.Time) ([]analytics.DailyLoad, error) {
	return f.loads, nil
}

type nullSource struct{}

func (nullSource) Activity(context.Context, string, int64) (*strava.ActivityDetail, error) {
	return nil, strava.ErrRemoteUnavailable
}

func (nullSource) Streams(context.Context, string, int64, []string) (strava.StreamSet, error) {
	return strava.StreamSet{}, strava.ErrRemoteUnavailable
}

func (nullSource) ListActivities(context.Context, string, time.Time) ([]strava.ActivitySummary, error) {
	return nil, nil
}

func fixtureMux(store *fakeStore) *http.ServeMux {
	service := domain.NewService(store, store, nullSource{}, store)
	calculator := analytics.NewCalculator(store)
	handler := NewHandler(service, calculator, "verify-me", "hook-secret")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func authed(req *http.Request, scopes ...string) *http.Request {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "u-1",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestSyncInitialQueuesBackfill(t *testing.T) {
	store := newFakeStore()
	store.users["u-1"] = &domain.User{ID: "u-1", StravaAthleteID: 9001}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/initial", strings.NewReader(`{"days_back": 60}`))
	req = authed(req, auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(store.backfills) != 1 {
		t.Fatalf("expected 1 backfill enqueued, got %d", len(store.backfills))
	}
	if got := time.Until(store.backfills[0].After); got > -59*24*time.Hour {
		t.Fatalf("expected 60 day window, cutoff was %s", store.backfills[0].After)
	}
}

func TestSyncInitialUnknownUser(t *testing.T) {
	mux := fixtureMux(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/initial", strings.NewReader(`{}`))
	req = authed(req, auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestSyncActivityRequiresWriteScope(t *testing.T) {
	store := newFakeStore()
	store.users["u-1"] = &domain.User{ID: "u-1"}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/activity", strings.NewReader(`{"strava_activity_id": 42}`))
	req = authed(req, auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestSyncActivityUpstreamUnavailable(t *testing.T) {
	store := newFakeStore()
	store.users["u-1"] = &domain.User{ID: "u-1"}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/activity", strings.NewReader(`{"strava_activity_id": 42}`))
	req = authed(req, auth.ScopeActivitiesWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetActivityNotFound(t *testing.T) {
	mux := fixtureMux(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/activities/missing", nil)
	req = authed(req, auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestListActivities(t *testing.T) {
	store := newFakeStore()
	store.users["u-1"] = &domain.User{ID: "u-1"}
	store.activities["a-1"] = &domain.Activity{
		ID:        "a-1",
		UserID:    "u-1",
		StravaID:  42,
		Name:      "Morning Ride",
		StartTime: time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC),
	}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?user_id=u-1", nil)
	req = authed(req, auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ActivityID != "a-1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestGetStreams(t *testing.T) {
	store := newFakeStore()
	store.activities["a-1"] = &domain.Activity{ID: "a-1", UserID: "u-1"}
	watts := 200
	store.samples["a-1"] = []domain.StreamSample{
		{ID: "s-1", ActivityID: "a-1", Timestamp: time.Now().UTC(), Watts: &watts},
	}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities/a-1/streams", nil)
	req = authed(req, auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp StreamsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Samples) != 1 || resp.Samples[0].Watts == nil || *resp.Samples[0].Watts != 200 {
		t.Fatalf("unexpected samples: %+v", resp.Samples)
	}
}

func TestTrainingLoadSeries(t *testing.T) {
	store := newFakeStore()
	store.loads = []analytics.DailyLoad{
		{Day: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), TSS: 80, CTL: 50, ATL: 60, TSB: -10},
	}
	mux := fixtureMux(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u-1/training-load?days=7", nil)
	req = authed(req, auth.ScopeActivitiesRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TrainingLoadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Days) != 1 || resp.Days[0].Day != "2026-08-28" || resp.Days[0].TSB != -10 {
		t.Fatalf("unexpected series: %+v", resp.Days)
	}
}
