package domain

import (
	"context"
	"time"
)

// User links an internal identity to a Strava athlete and holds the OAuth credential.
type User struct {
	ID              string
	StravaAthleteID int64
	AccessToken     string
	RefreshToken    string
	TokenExpiresAt  time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserRepository captures persistence operations for users.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByAthleteID(ctx context.Context, athleteID int64) (*User, error)
	CreateUser(ctx context.Context, user User) error
}
