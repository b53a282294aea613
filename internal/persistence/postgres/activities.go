package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/events"
)

const activityColumns = `activity_id, user_id, strava_id, name, start_time, distance_m, moving_time_s, elev_gain_m, avg_power, avg_hr, tss, normalized_power, created_at`

const uniqueViolation = "23505"

// FindByStravaID looks up an activity by the source platform's id, returning
// nil when absent. This is the idempotency check for ingestion.
func (r *Repository) FindByStravaID(ctx context.Context, stravaID int64) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE strava_id=$1`, stravaID)
	return scanActivity(row)
}

// Get retrieves an activity by internal id, returning nil when absent.
func (r *Repository) Get(ctx context.Context, activityID string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, activityID)
	return scanActivity(row)
}

// CreateWithStreams commits the activity, its stream batch, and the
// training-load recalc event in one transaction. Streams go through CopyFrom
// so multi-thousand-sample rides avoid per-row insert overhead. A strava_id
// uniqueness conflict maps to domain.ErrDuplicateActivity.
func (r *Repository) CreateWithStreams(ctx context.Context, activity domain.Activity, samples []domain.StreamSample) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO activities (activity_id, user_id, strava_id, name, start_time, distance_m, moving_time_s, elev_gain_m, avg_power, avg_hr, tss, normalized_power, created_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		activity.ID, activity.UserID, activity.StravaID, activity.Name, activity.StartTime,
		activity.DistanceM, activity.MovingTimeS, activity.ElevGainM,
		activity.AvgPower, activity.AvgHR, activity.TSS, activity.NormalizedPower,
		activity.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = domain.ErrDuplicateActivity
		}
		return err
	}

	if len(samples) > 0 {
		rows := make([][]interface{}, 0, len(samples))
		for _, s := range samples {
			rows = append(rows, []interface{}{
				s.ID, s.ActivityID, s.Timestamp, s.Lat, s.Lon, s.Altitude, s.DistanceM,
				s.VelocitySmooth, s.Heartrate, s.Cadence, s.Watts, s.Temp, s.Moving, s.GradeSmooth,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"streams"},
			[]string{"stream_id", "activity_id", "ts", "lat", "lon", "altitude", "distance_m",
				"velocity_smooth", "heartrate", "cadence", "watts", "temp", "moving", "grade_smooth"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
	}

	err = insertOutbox(ctx, tx, "training_load.recalc_requested", activity.UserID,
		activity.ID+":recalc", events.RecalcRequested{
			UserID:     activity.UserID,
			ActivityID: activity.ID,
			OccurredAt: time.Now().UTC(),
		})
	if err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// ListByUser returns activities for a user ordered by start time descending
// with keyset pagination.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (start_time, activity_id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}

	query += ` ORDER BY start_time DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		activity, scanErr := scanActivityRow(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		results = append(results, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return results, next, nil
}

// ListStreams returns an activity's samples ordered by timestamp ascending.
func (r *Repository) ListStreams(ctx context.Context, activityID string) ([]domain.StreamSample, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stream_id, activity_id, ts, lat, lon, altitude, distance_m, velocity_smooth, heartrate, cadence, watts, temp, moving, grade_smooth
         FROM streams WHERE activity_id=$1 ORDER BY ts ASC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.StreamSample, 0)
	for rows.Next() {
		var s domain.StreamSample
		if err := rows.Scan(&s.ID, &s.ActivityID, &s.Timestamp, &s.Lat, &s.Lon, &s.Altitude, &s.DistanceM,
			&s.VelocitySmooth, &s.Heartrate, &s.Cadence, &s.Watts, &s.Temp, &s.Moving, &s.GradeSmooth); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.ID, &a.UserID, &a.StravaID, &a.Name, &a.StartTime, &a.DistanceM, &a.MovingTimeS,
		&a.ElevGainM, &a.AvgPower, &a.AvgHR, &a.TSS, &a.NormalizedPower, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanActivityRow(rows pgx.Rows) (*domain.Activity, error) {
	var a domain.Activity
	if err := rows.Scan(&a.ID, &a.UserID, &a.StravaID, &a.Name, &a.StartTime, &a.DistanceM, &a.MovingTimeS,
		&a.ElevGainM, &a.AvgPower, &a.AvgHR, &a.TSS, &a.NormalizedPower, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
