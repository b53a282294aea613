package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/bikecoach/internal/observability"
)

// ErrAuthentication indicates the stored refresh credential was rejected and
// the user must re-authorize with Strava.
var ErrAuthentication = errors.New("strava refresh credential rejected")

// Credential is the OAuth credential persisted on the user row.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// CredentialStore loads and persists per-user credentials. The Postgres
// repository implements it.
type CredentialStore interface {
	Credential(ctx context.Context, userID string) (Credential, error)
	SaveCredential(ctx context.Context, userID string, cred Credential) error
}

// TokenSource produces valid bearer tokens, refreshing proactively when the
// stored credential is inside the expiry window. Safe for concurrent use;
// concurrent refreshes for the same user serialize on the mutex so only one
// wasted exchange can happen per process.
type TokenSource struct {
	store         CredentialStore
	httpClient    *http.Client
	tokenURL      string
	clientID      string
	clientSecret  string
	refreshWindow time.Duration
	mu            sync.Mutex
}

// TokenSourceConfig carries the OAuth application settings.
type TokenSourceConfig struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	RefreshWindow time.Duration
}

// NewTokenSource constructs a TokenSource backed by the given store.
func NewTokenSource(store CredentialStore, cfg TokenSourceConfig) *TokenSource {
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://www.strava.com/oauth/token"
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 5 * time.Minute
	}
	return &TokenSource{
		store:         store,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		tokenURL:      cfg.TokenURL,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		refreshWindow: cfg.RefreshWindow,
	}
}

// Token returns a valid access token for the user, refreshing and persisting
// the credential first when it expires inside the refresh window.
func (s *TokenSource) Token(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.store.Credential(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token stored", ErrAuthentication)
	}

	if cred.ExpiresAt.IsZero() || time.Now().Add(s.refreshWindow).Before(cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	refreshed, err := s.refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveCredential(ctx, userID, refreshed); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	observability.RecordTokenRefresh()
	return refreshed.AccessToken, nil
}

func (s *TokenSource) refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if refreshToken == "" {
		return Credential{}, fmt.Errorf("%w: missing refresh token", ErrAuthentication)
	}

	form := url.Values{}
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return Credential{}, fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, fmt.Errorf("decode refresh response: %w", err)
	}

	expiry := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	if payload.ExpiresAt != 0 {
		expiry = time.Unix(payload.ExpiresAt, 0)
	}

	// Strava rotates refresh tokens; keep the old one if the response omits it.
	newRefresh := payload.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	return Credential{
		AccessToken:  payload.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiry.UTC(),
	}, nil
}
