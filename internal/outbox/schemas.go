package outbox

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"activity.sync_requested": {
		Schema: syncRequestedSchema,
	},
	"activity.backfill_requested": {
		Schema: backfillRequestedSchema,
	},
	"training_load.recalc_requested": {
		Schema: recalcRequestedSchema,
	},
}

const syncRequestedSchema = `{
  "type": "object",
  "title": "ActivitySyncRequested",
  "properties": {
    "user_id": {"type": "string"},
    "strava_activity_id": {"type": "integer"},
    "source": {"type": "string"}
  },
  "required": ["user_id", "strava_activity_id"],
  "additionalProperties": false
}`

const backfillRequestedSchema = `{
  "type": "object",
  "title": "ActivityBackfillRequested",
  "properties": {
    "user_id": {"type": "string"},
    "after": {"type": "string", "format": "date-time"},
    "requested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "after"],
  "additionalProperties": false
}`

const recalcRequestedSchema = `{
  "type": "object",
  "title": "TrainingLoadRecalcRequested",
  "properties": {
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "occurred_at"],
  "additionalProperties": false
}`
