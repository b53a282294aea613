// Package postgres provides pgx-backed persistence for users, activities,
// streams, training-load snapshots, and the outbox.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/strava"
)

// Repository implements the domain repositories, the Strava credential store,
// and the outbox enqueuer on a shared connection pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `user_id, strava_athlete_id, access_token, refresh_token, token_expires_at, created_at, updated_at`

// GetUser fetches a user by internal id, returning nil when absent.
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
	return scanUser(row)
}

// GetUserByAthleteID fetches a user by the unique Strava athlete id.
func (r *Repository) GetUserByAthleteID(ctx context.Context, athleteID int64) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE strava_athlete_id=$1`, athleteID)
	return scanUser(row)
}

// CreateUser persists a new user record.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, strava_athlete_id, access_token, refresh_token, token_expires_at, created_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		user.ID, user.StravaAthleteID, user.AccessToken, user.RefreshToken,
		user.TokenExpiresAt, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// Credential loads the OAuth credential stored on the user row.
func (r *Repository) Credential(ctx context.Context, userID string) (strava.Credential, error) {
	var cred strava.Credential
	err := r.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, token_expires_at FROM users WHERE user_id=$1`, userID,
	).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return strava.Credential{}, domain.ErrUserNotFound
	}
	return cred, err
}

// SaveCredential persists a refreshed credential back onto the user row.
func (r *Repository) SaveCredential(ctx context.Context, userID string, cred strava.Credential) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET access_token=$2, refresh_token=$3, token_expires_at=$4, updated_at=$5 WHERE user_id=$1`,
		userID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, time.Now().UTC(),
	)
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.StravaAthleteID, &user.AccessToken, &user.RefreshToken,
		&user.TokenExpiresAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
