// Package webhook ingests provider delivery events (bounces, complaints,
// replies, delivery confirmations), applies them to campaign sends and the
// suppression list, and retries failed processing from a durable event
// record keyed by the provider's event id.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider event types
const (
	EventDelivered = "delivered"
	EventBounce    = "bounce"
	EventComplaint = "complaint"
	EventReply     = "reply"
)

var ErrInvalidEvent = errors.New("invalid webhook event")

// Event is a parsed provider webhook event
type Event struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	ProviderMsgID string `json:"message_id"`
	Recipient     string `json:"recipient"`
	// Detail carries the provider's reason text, e.g. the bounce diagnostic
	Detail string `json:"detail,omitempty"`
}

// ParseEvent decodes and validates a provider event payload
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	if ev.ProviderMsgID == "" {
		return nil, fmt.Errorf("%w: missing message id", ErrInvalidEvent)
	}
	switch ev.Type {
	case EventDelivered, EventBounce, EventComplaint, EventReply:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	return &ev, nil
}
