// Package api exposes HTTP handlers for the coaching backend.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/bikecoach/internal/analytics"
	"example.com/bikecoach/internal/auth"
	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/persistence"
	"example.com/bikecoach/internal/strava"
)

// Handler coordinates HTTP requests with the domain service and the
// training-load calculator.
type Handler struct {
	service       *domain.Service
	loads         *analytics.Calculator
	verifyToken   string
	webhookSecret string
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, loads *analytics.Calculator, verifyToken, webhookSecret string) *Handler {
	return &Handler{
		service:       service,
		loads:         loads,
		verifyToken:   verifyToken,
		webhookSecret: webhookSecret,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.webhook)
	mux.HandleFunc("/v1/sync/initial", h.syncInitial)
	mux.HandleFunc("/v1/sync/activity", h.syncActivity)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/activities/", h.activitySubresource)
	mux.HandleFunc("/v1/users/", h.userSubresource)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// syncInitial enqueues a backfill of the user's recent history and returns
// immediately. The heavy lifting happens in the worker.
func (h *Handler) syncInitial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req SyncInitialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = claims.Subject
	}

	if err := h.service.RequestBackfill(r.Context(), userID, req.DaysBack); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// syncActivity ingests one activity synchronously. Useful for manual
// resyncs where the caller wants the result in-band.
func (h *Handler) syncActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req SyncActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.StravaActivityID == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "strava_activity_id is required")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = claims.Subject
	}

	activityID, err := h.service.Ingest(r.Context(), userID, req.StravaActivityID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "not_found", "user not found")
		case errors.Is(err, strava.ErrAuthentication):
			writeError(w, http.StatusBadGateway, "upstream_auth_failed", "platform credentials rejected")
		case errors.Is(err, strava.ErrRemoteUnavailable):
			writeError(w, http.StatusBadGateway, "upstream_unavailable", "platform unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"activity_id": activityID})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.Subject
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// activitySubresource routes /v1/activities/{id} and /v1/activities/{id}/streams.
func (h *Handler) activitySubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch sub {
	case "":
		h.getActivity(w, r, id)
	case "streams":
		h.getStreams(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	activity, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) getStreams(w http.ResponseWriter, r *http.Request, id string) {
	samples, err := h.service.ListStreams(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]StreamSampleView, 0, len(samples))
	for _, s := range samples {
		items = append(items, toStreamSampleView(s))
	}
	writeJSON(w, http.StatusOK, StreamsResponse{ActivityID: id, Samples: items})
}

// userSubresource routes /v1/users/{id}/training-load.
func (h *Handler) userSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || sub != "training-load" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}

	series, err := h.loads.Series(r.Context(), id, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]DailyLoadView, 0, len(series))
	for _, d := range series {
		items = append(items, DailyLoadView{
			Day: d.Day.Format("2006-01-02"),
			TSS: d.TSS,
			CTL: d.CTL,
			ATL: d.ATL,
			TSB: d.TSB,
		})
	}
	writeJSON(w, http.StatusOK, TrainingLoadResponse{UserID: id, Days: items})
}

// requireScope extracts claims and enforces the given scope, writing the
// error response itself on failure. Write scope implies read.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		if scope == auth.ScopeActivitiesRead && claims.HasScope(auth.ScopeActivitiesWrite) {
			return claims, true
		}
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// SyncInitialRequest is the payload for POST /v1/sync/initial.
type SyncInitialRequest struct {
	UserID   string `json:"user_id,omitempty"`
	DaysBack int    `json:"days_back,omitempty"`
}

// SyncActivityRequest is the payload for POST /v1/sync/activity.
type SyncActivityRequest struct {
	UserID           string `json:"user_id,omitempty"`
	StravaActivityID int64  `json:"strava_activity_id"`
}

// ActivityView exposes stored activity details.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	UserID          string    `json:"user_id"`
	StravaID        int64     `json:"strava_id"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"start_time"`
	DistanceM       float64   `json:"distance_m"`
	MovingTimeS     int       `json:"moving_time_s"`
	ElevGainM       float64   `json:"elev_gain_m"`
	AvgPower        *float64  `json:"avg_power,omitempty"`
	AvgHR           *float64  `json:"avg_hr,omitempty"`
	TSS             *float64  `json:"tss,omitempty"`
	NormalizedPower *float64  `json:"normalized_power,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StreamSampleView is one telemetry row.
type StreamSampleView struct {
	Timestamp      time.Time `json:"ts"`
	Lat            *float64  `json:"lat,omitempty"`
	Lon            *float64  `json:"lon,omitempty"`
	Altitude       *float64  `json:"altitude,omitempty"`
	DistanceM      *float64  `json:"distance_m,omitempty"`
	VelocitySmooth *float64  `json:"velocity_smooth,omitempty"`
	Heartrate      *int      `json:"heartrate,omitempty"`
	Cadence        *int      `json:"cadence,omitempty"`
	Watts          *int      `json:"watts,omitempty"`
	Temp           *float64  `json:"temp,omitempty"`
	Moving         *int16    `json:"moving,omitempty"`
	GradeSmooth    *float64  `json:"grade_smooth,omitempty"`
}

// StreamsResponse packages an activity's samples.
type StreamsResponse struct {
	ActivityID string             `json:"activity_id"`
	Samples    []StreamSampleView `json:"samples"`
}

// DailyLoadView is one day of the training-load series.
type DailyLoadView struct {
	Day string  `json:"day"`
	TSS float64 `json:"tss"`
	CTL float64 `json:"ctl"`
	ATL float64 `json:"atl"`
	TSB float64 `json:"tsb"`
}

// TrainingLoadResponse packages the daily series.
type TrainingLoadResponse struct {
	UserID string          `json:"user_id"`
	Days   []DailyLoadView `json:"days"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		UserID:          a.UserID,
		StravaID:        a.StravaID,
		Name:            a.Name,
		StartTime:       a.StartTime,
		DistanceM:       a.DistanceM,
		MovingTimeS:     a.MovingTimeS,
		ElevGainM:       a.ElevGainM,
		AvgPower:        a.AvgPower,
		AvgHR:           a.AvgHR,
		TSS:             a.TSS,
		NormalizedPower: a.NormalizedPower,
		CreatedAt:       a.CreatedAt,
	}
}

func toStreamSampleView(s domain.StreamSample) StreamSampleView {
	return StreamSampleView{
		Timestamp:      s.Timestamp,
		Lat:            s.Lat,
		Lon:            s.Lon,
		Altitude:       s.Altitude,
		DistanceM:      s.DistanceM,
		VelocitySmooth: s.VelocitySmooth,
		Heartrate:      s.Heartrate,
		Cadence:        s.Cadence,
		Watts:          s.Watts,
		Temp:           s.Temp,
		Moving:         s.Moving,
		GradeSmooth:    s.GradeSmooth,
	}
}
