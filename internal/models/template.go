package models

import "time"

// Template is a campaign email template. Sequence 0 is the initial send,
// 1..n are the follow-up sequence.
type Template struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Sequence   int       `json:"sequence"`
	Subject    string    `json:"subject"`
	BodyHTML   string    `json:"body_html"`
	CreatedAt  time.Time `json:"created_at"`
}
