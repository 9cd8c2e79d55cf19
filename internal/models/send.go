package models

import "time"

// SendStatus represents the engagement funnel position of a delivered email.
// The funnel only moves forward (sent -> opened -> clicked); replied, bounced
// and failed can be set at any point, bounced and failed are terminal.
type SendStatus string

const (
	SendQueued  SendStatus = "queued"
	SendSent    SendStatus = "sent"
	SendOpened  SendStatus = "opened"
	SendClicked SendStatus = "clicked"
	SendReplied SendStatus = "replied"
	SendBounced SendStatus = "bounced"
	SendFailed  SendStatus = "failed"
)

// CampaignSend is the durable per-recipient delivery record. Unlike a
// QueueItem it persists past delivery to capture engagement; its id is the
// tracking key embedded in pixel and click URLs. Timestamps follow the
// first-event-wins rule: once set they are never overwritten.
type CampaignSend struct {
	ID             string     `json:"id"`
	CampaignID     string     `json:"campaign_id"`
	QueueItemID    string     `json:"queue_item_id"`
	Recipient      string     `json:"recipient"`
	FollowUpNumber int        `json:"follow_up_number"`
	Status         SendStatus `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	RepliedAt      *time.Time `json:"replied_at,omitempty"`
	BouncedAt      *time.Time `json:"bounced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
