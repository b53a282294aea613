package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/events"
	"example.com/bikecoach/internal/strava"
)

// Ingestor is the slice of the activity service the worker needs.
type Ingestor interface {
	Ingest(ctx context.Context, userID string, stravaID int64) (string, error)
	Backfill(ctx context.Context, userID string, after time.Time) error
}

// LoadRebuilder recomputes a user's daily training-load snapshot.
type LoadRebuilder interface {
	Rebuild(ctx context.Context, userID string) error
}

// SyncHandler routes dispatch-queue events to the ingestion service and the
// training-load calculator. Both targets are idempotent, so at-least-once
// delivery is safe.
type SyncHandler struct {
	ingestor  Ingestor
	rebuilder LoadRebuilder
	logger    *log.Logger
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(ingestor Ingestor, rebuilder LoadRebuilder) *SyncHandler {
	return &SyncHandler{
		ingestor:  ingestor,
		rebuilder: rebuilder,
		logger:    log.New(log.Writer(), "[worker] ", log.LstdFlags),
	}
}

// Handle decodes the payload per event type and invokes the matching operation.
func (h *SyncHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case "activity.sync_requested":
		var ev events.SyncRequested
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode sync payload: %w", err)
		}
		_, err := h.ingestor.Ingest(ctx, ev.UserID, ev.StravaActivityID)
		return h.permanentToSkip(err, msg)

	case "activity.backfill_requested":
		var ev events.BackfillRequested
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode backfill payload: %w", err)
		}
		return h.permanentToSkip(h.ingestor.Backfill(ctx, ev.UserID, ev.After), msg)

	case "training_load.recalc_requested":
		var ev events.RecalcRequested
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode recalc payload: %w", err)
		}
		return h.rebuilder.Rebuild(ctx, ev.UserID)

	default:
		// Unknown types are logged and dropped so the partition keeps moving.
		h.logger.Printf("unknown event type %q (topic=%s, offset=%d)", msg.EventType, msg.Topic, msg.Offset)
		return nil
	}
}

// permanentToSkip swallows errors that redelivery can never fix. A deleted
// user or revoked token stays broken no matter how often the message replays.
func (h *SyncHandler) permanentToSkip(err error, msg Message) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, strava.ErrAuthentication) {
		h.logger.Printf("dropping %s (offset=%d): %v", msg.EventType, msg.Offset, err)
		return nil
	}
	return err
}
