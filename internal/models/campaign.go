package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign is an outreach campaign with denormalized engagement counters.
// Counters are only ever incremented by conditional first-event updates,
// never read-modify-write.
type Campaign struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	Name        string         `json:"name"`
	Status      CampaignStatus `json:"status"`
	FromAddress string         `json:"from_address"`
	ReplyTo     string         `json:"reply_to,omitempty"`

	// Follow-up gating rules
	FollowUpMax      int  `json:"follow_up_max"`
	FollowUpInterval int  `json:"follow_up_interval_hours"`
	StopOnReply      bool `json:"stop_on_reply"`

	TotalSent    int64 `json:"total_sent"`
	TotalOpened  int64 `json:"total_opened"`
	TotalClicked int64 `json:"total_clicked"`
	TotalReplied int64 `json:"total_replied"`
	TotalBounced int64 `json:"total_bounced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignStats is the aggregate view returned by the stats endpoint
type CampaignStats struct {
	CampaignID   string `json:"campaign_id"`
	TotalSent    int64  `json:"total_sent"`
	TotalOpened  int64  `json:"total_opened"`
	TotalClicked int64  `json:"total_clicked"`
	TotalReplied int64  `json:"total_replied"`
	TotalBounced int64  `json:"total_bounced"`
	Pending      int64  `json:"pending"`
	Failed       int64  `json:"failed"`
}
