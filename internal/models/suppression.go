package models

import "time"

// Suppression reasons
const (
	SuppressionBounced      = "bounced"
	SuppressionComplained   = "complained"
	SuppressionUnsubscribed = "unsubscribed"
	SuppressionManual       = "manual"
)

// SuppressionEntry is an address excluded from sends, permanently or until
// ExpiresAt.
type SuppressionEntry struct {
	ID        string     `json:"id"`
	Address   string     `json:"address"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
