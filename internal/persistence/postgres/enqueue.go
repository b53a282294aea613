package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/bikecoach/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.sync_requested": {
		Topic:         "activity_sync_requests",
		SchemaSubject: "activity_sync_requests-value",
	},
	"activity.backfill_requested": {
		Topic:         "activity_sync_requests",
		SchemaSubject: "activity_backfill_requests-value",
	},
	"training_load.recalc_requested": {
		Topic:         "training_load_recalc",
		SchemaSubject: "training_load_recalc-value",
	},
}

// execer is satisfied by pgx transactions, pooled connections, and the pool
// itself, letting outbox inserts ride an existing transaction or stand alone.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// EnqueueSync records a single-activity ingestion request in the outbox.
// The insert is the enqueue: if it fails, the request path fails.
func (r *Repository) EnqueueSync(ctx context.Context, ev events.SyncRequested) error {
	return insertOutbox(ctx, r.pool, "activity.sync_requested", ev.UserID,
		fmt.Sprintf("%s:%d", ev.UserID, ev.StravaActivityID), ev)
}

// EnqueueBackfill records a backfill request in the outbox.
func (r *Repository) EnqueueBackfill(ctx context.Context, ev events.BackfillRequested) error {
	return insertOutbox(ctx, r.pool, "activity.backfill_requested", ev.UserID,
		fmt.Sprintf("%s:backfill:%d", ev.UserID, ev.RequestedAt.Unix()), ev)
}

func insertOutbox(ctx context.Context, q execer, eventType, userID, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	// Re-deliveries of the same trigger collapse onto the pending row instead
	// of fanning out duplicate work.
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) WHERE published_at IS NULL DO NOTHING`

	_, err = q.Exec(ctx, stmt, "user", userID, eventType, meta.Topic, meta.SchemaSubject, userID, body, dedupeKey)
	return err
}
