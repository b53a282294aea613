package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/bikecoach/internal/analytics"
)

// ActivityStress returns every activity's (start_time, tss) for a user,
// ascending. Activities without a stress score contribute zero.
func (r *Repository) ActivityStress(ctx context.Context, userID string) ([]analytics.ActivityStress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT start_time, COALESCE(tss, 0) FROM activities WHERE user_id=$1 ORDER BY start_time ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stresses := make([]analytics.ActivityStress, 0)
	for rows.Next() {
		var s analytics.ActivityStress
		if err := rows.Scan(&s.StartTime, &s.TSS); err != nil {
			return nil, err
		}
		stresses = append(stresses, s)
	}
	return stresses, rows.Err()
}

// ReplaceDailyLoad swaps the user's snapshot rows in one transaction so
// readers never observe a partially rebuilt series.
func (r *Repository) ReplaceDailyLoad(ctx context.Context, userID string, days []analytics.DailyLoad) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM training_load_daily WHERE user_id=$1`, userID); err != nil {
		return err
	}

	if len(days) > 0 {
		computedAt := time.Now().UTC()
		rows := make([][]interface{}, 0, len(days))
		for _, d := range days {
			rows = append(rows, []interface{}{userID, d.Day, d.TSS, d.CTL, d.ATL, d.TSB, computedAt})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"training_load_daily"},
			[]string{"user_id", "day", "tss", "ctl", "atl", "tsb", "computed_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// DailyLoad reads snapshot rows on or after the given day, ascending.
func (r *Repository) DailyLoad(ctx context.Context, userID string, since time.Time) ([]analytics.DailyLoad, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT day, tss, ctl, atl, tsb FROM training_load_daily WHERE user_id=$1 AND day >= $2 ORDER BY day ASC`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]analytics.DailyLoad, 0)
	for rows.Next() {
		var d analytics.DailyLoad
		if err := rows.Scan(&d.Day, &d.TSS, &d.CTL, &d.ATL, &d.TSB); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
