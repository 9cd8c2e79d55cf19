package models

import "time"

// WebhookEventStatus represents the processing state of an inbound provider
// event. An event is processed successfully at most once; the event id is the
// idempotency key.
type WebhookEventStatus string

const (
	WebhookPending   WebhookEventStatus = "pending"
	WebhookRetrying  WebhookEventStatus = "retrying"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is a durable record of an inbound provider webhook delivery,
// kept for retry of failed processing.
type WebhookEvent struct {
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	Payload     []byte             `json:"payload"`
	Status      WebhookEventStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	NextRetryAt time.Time          `json:"next_retry_at"`
	LastError   string             `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// WebhookStats summarizes retry records by status
type WebhookStats struct {
	Pending   int64 `json:"pending"`
	Retrying  int64 `json:"retrying"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}
