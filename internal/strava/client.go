// Package strava talks to the Strava v3 API on behalf of a stored user credential.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRemoteUnavailable indicates Strava answered with a non-success status.
// Stream fetches that fail this way degrade the activity to metadata-only.
var ErrRemoteUnavailable = errors.New("strava api unavailable")

const defaultBaseURL = "https://www.strava.com/api/v3"

// Client fetches activity metadata, stream channels, and paginated activity
// listings. Each call obtains a bearer token from the TokenSource, which
// refreshes on demand.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     *TokenSource
	pageSize   int
}

// NewClient constructs a Client. baseURL is overridable for tests.
func NewClient(tokens *TokenSource, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		tokens:     tokens,
		pageSize:   50,
	}
}

type activityPayload struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	StartDate            string   `json:"start_date"`
	Distance             float64  `json:"distance"`
	MovingTime           int      `json:"moving_time"`
	TotalElevationGain   float64  `json:"total_elevation_gain"`
	AverageWatts         *float64 `json:"average_watts"`
	AverageHeartrate     *float64 `json:"average_heartrate"`
	WeightedAverageWatts *float64 `json:"weighted_average_watts"`
}

// Activity fetches metadata for one activity by its Strava id.
func (c *Client) Activity(ctx context.Context, userID string, stravaID int64) (*ActivityDetail, error) {
	var payload activityPayload
	endpoint := fmt.Sprintf("%s/activities/%d", c.baseURL, stravaID)
	if err := c.getJSON(ctx, userID, endpoint, &payload); err != nil {
		return nil, err
	}

	start, err := time.Parse(time.RFC3339, payload.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse start_date %q: %w", payload.StartDate, err)
	}

	return &ActivityDetail{
		StravaID:        payload.ID,
		Name:            payload.Name,
		StartTime:       start.UTC(),
		DistanceM:       payload.Distance,
		MovingTimeS:     payload.MovingTime,
		ElevGainM:       payload.TotalElevationGain,
		AvgPower:        payload.AverageWatts,
		AvgHR:           payload.AverageHeartrate,
		NormalizedPower: payload.WeightedAverageWatts,
	}, nil
}

// Streams fetches the requested channels keyed by type. Channels the source
// has no data for are absent from the result.
func (c *Client) Streams(ctx context.Context, userID string, stravaID int64, keys []string) (StreamSet, error) {
	endpoint := fmt.Sprintf("%s/activities/%d/streams?keys=%s&key_by_type=true",
		c.baseURL, stravaID, url.QueryEscape(strings.Join(keys, ",")))

	var payload map[string]struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, userID, endpoint, &payload); err != nil {
		return StreamSet{}, err
	}

	var set StreamSet
	for key, channel := range payload {
		if err := decodeChannel(&set, key, channel.Data); err != nil {
			return StreamSet{}, fmt.Errorf("decode %s channel: %w", key, err)
		}
	}
	return set, nil
}

// ListActivities pages through the athlete activity listing, newest first,
// returning every activity started after the cutoff.
func (c *Client) ListActivities(ctx context.Context, userID string, after time.Time) ([]ActivitySummary, error) {
	summaries := make([]ActivitySummary, 0)

	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/athlete/activities?after=%d&per_page=%d&page=%d",
			c.baseURL, after.Unix(), c.pageSize, page)

		var payload []activityPayload
		if err := c.getJSON(ctx, userID, endpoint, &payload); err != nil {
			return nil, err
		}

		for _, item := range payload {
			start, err := time.Parse(time.RFC3339, item.StartDate)
			if err != nil {
				return nil, fmt.Errorf("parse start_date %q: %w", item.StartDate, err)
			}
			summaries = append(summaries, ActivitySummary{
				StravaID:  item.ID,
				Name:      item.Name,
				StartTime: start.UTC(),
			})
		}

		if len(payload) < c.pageSize {
			return summaries, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, userID, endpoint string, out interface{}) error {
	token, err := c.tokens.Token(ctx, userID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeChannel(set *StreamSet, key string, data json.RawMessage) error {
	switch key {
	case "time":
		return json.Unmarshal(data, &set.Time)
	case "latlng":
		return json.Unmarshal(data, &set.Latlng)
	case "altitude":
		return json.Unmarshal(data, &set.Altitude)
	case "velocity_smooth":
		return json.Unmarshal(data, &set.VelocitySmooth)
	case "heartrate":
		return json.Unmarshal(data, &set.Heartrate)
	case "cadence":
		return json.Unmarshal(data, &set.Cadence)
	case "watts":
		return json.Unmarshal(data, &set.Watts)
	case "temp":
		return json.Unmarshal(data, &set.Temp)
	case "moving":
		return json.Unmarshal(data, &set.Moving)
	case "grade_smooth":
		return json.Unmarshal(data, &set.GradeSmooth)
	}
	// Unknown channels are ignored rather than failing the fetch.
	return nil
}
