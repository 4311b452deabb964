package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Callback delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type CallbackDelivery struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	RunID         string     `json:"runId"`
	EventType     string     `json:"eventType"`
	URL           string     `json:"url"`
	Secret        string     `json:"-"`
	Payload       []byte     `json:"-"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`
	ResponseCode  int        `json:"responseCode,omitempty"`
	LatencyMs     int        `json:"latencyMs,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

// computeDedupKey identifies a callback payload: run id and event type when the payload is
// a run event, a short content hash otherwise.
func computeDedupKey(payload []byte) string {
	var ev struct {
		RunID string `json:"runId"`
		Type  string `json:"type"`
	}
	if json.Unmarshal(payload, &ev) == nil && ev.RunID != "" && ev.Type != "" {
		return ev.RunID + ":" + ev.Type
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
