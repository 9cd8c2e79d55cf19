package models

import "time"

// QueueItemStatus represents the status of a queued send
type QueueItemStatus string

const (
	QueuePending QueueItemStatus = "pending"
	QueueSending QueueItemStatus = "sending"
	QueueSent    QueueItemStatus = "sent"
	QueueFailed  QueueItemStatus = "failed"
	QueueSkipped QueueItemStatus = "skipped"
)

// Skip reasons recorded on terminal skipped items
const (
	SkipSuppressed        = "suppressed"
	SkipInvalidAddress    = "invalid_address"
	SkipCampaignPaused    = "campaign_paused"
	SkipDomainNotVerified = "domain_not_verified"
	SkipTemplateMissing   = "template_missing"
)

// QueueItem is a single planned or attempted email send, the unit of retry.
// Items are never deleted; terminal states are sent, failed and skipped.
type QueueItem struct {
	ID             string          `json:"id"`
	CampaignID     string          `json:"campaign_id"`
	Recipient      string          `json:"recipient"`
	TemplateID     string          `json:"template_id"`
	FollowUpNumber int             `json:"follow_up_number"`
	Context        map[string]any  `json:"context,omitempty"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	Status         QueueItemStatus `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	SkipReason     string          `json:"skip_reason,omitempty"`
	ProviderMsgID  string          `json:"provider_msg_id,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// QueueStats summarizes queue item counts by status
type QueueStats struct {
	Pending int64 `json:"pending"`
	Sending int64 `json:"sending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
	Due     int64 `json:"due"`
}
