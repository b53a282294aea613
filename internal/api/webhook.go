package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"example.com/bikecoach/internal/domain"
	"example.com/bikecoach/internal/observability"
)

// maxWebhookBody bounds how much of an event payload we will read.
const maxWebhookBody = 1 << 20

// webhook serves the platform event endpoint. GET answers the subscription
// handshake; POST receives activity events.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.webhookChallenge(w, r)
	case http.MethodPost:
		h.webhookEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// webhookChallenge echoes the hub.challenge value when the verify token
// matches, completing the subscription handshake.
func (h *Handler) webhookChallenge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		observability.RecordWebhookEvent("rejected")
		writeError(w, http.StatusForbidden, "forbidden", "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": query.Get("hub.challenge")})
}

// WebhookEvent is the payload delivered on activity changes.
type WebhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
	EventTime  int64  `json:"event_time"`
}

// webhookEvent verifies the signature, then enqueues a sync for created
// activities belonging to known athletes. Responses are fast and the real
// work happens in the worker; the platform retries slow endpoints.
func (h *Handler) webhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		observability.RecordWebhookEvent("rejected")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}

	if !h.verifySignature(r.Header.Get("X-Hub-Signature"), body) {
		observability.RecordWebhookEvent("rejected")
		writeError(w, http.StatusForbidden, "forbidden", "invalid signature")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		observability.RecordWebhookEvent("rejected")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if event.ObjectType != "activity" || event.AspectType != "create" {
		observability.RecordWebhookEvent("ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	user, err := h.service.ResolveAthlete(r.Context(), event.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if user == nil {
		// Unknown athletes are acknowledged so the platform stops retrying.
		observability.RecordWebhookEvent("ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.service.RequestSync(r.Context(), user.ID, event.ObjectID, "webhook"); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			observability.RecordWebhookEvent("ignored")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	observability.RecordWebhookEvent("enqueued")
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// verifySignature checks the sha1 HMAC of the raw body in constant time.
func (h *Handler) verifySignature(header string, body []byte) bool {
	if h.webhookSecret == "" {
		return true
	}

	provided := strings.TrimPrefix(header, "sha1=")
	if provided == "" {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha1.New, []byte(h.webhookSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
