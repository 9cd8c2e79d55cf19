package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/models"
)

// SendStore applies engagement updates to campaign sends
type SendStore interface {
	GetByProviderMsgID(ctx context.Context, providerMsgID string) (*models.CampaignSend, error)
	MarkSent(ctx context.Context, sendID string) (bool, error)
	MarkBounced(ctx context.Context, sendID string) (bool, error)
	MarkReplied(ctx context.Context, sendID string) (bool, error)
}

// Suppressor adds addresses to the suppression list
type Suppressor interface {
	Add(ctx context.Context, address, reason string, expiresAt *time.Time) error
}

// RetrySummary reports one retry-processing pass
type RetrySummary struct {
	Claimed   int `json:"claimed"`
	Processed int `json:"processed"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// Processor applies provider events to sends and the suppression list
type Processor struct {
	store        *Store
	sends        SendStore
	suppressions Suppressor
	logger       *slog.Logger
}

func NewProcessor(store *Store, sends SendStore, suppressions Suppressor, logger *slog.Logger) *Processor {
	return &Processor{
		store:        store,
		sends:        sends,
		suppressions: suppressions,
		logger:       logger.With("component", "webhook"),
	}
}

// Ingest records a new inbound event and tries to apply it immediately.
// A duplicate event id is acknowledged without reprocessing. If applying
// fails the durable record stays behind for the retry processor.
func (p *Processor) Ingest(ctx context.Context, payload []byte) error {
	ev, err := ParseEvent(payload)
	if err != nil {
		return err
	}

	fresh, err := p.store.Record(ctx, ev.ID, ev.Type, payload)
	if err != nil {
		return err
	}
	if !fresh {
		p.logger.Info("duplicate event ignored", "event", ev.ID, "type", ev.Type)
		metrics.IncWebhookEvents("duplicate")
		return nil
	}

	if err := p.Apply(ctx, ev); err != nil {
		record := &models.WebhookEvent{EventID: ev.ID}
		if markErr := p.store.MarkFailedAttempt(ctx, record, err); markErr != nil {
			p.logger.Error("failed to record event attempt", "event", ev.ID, "error", markErr)
		}
		p.logger.Warn("event processing deferred to retry", "event", ev.ID, "type", ev.Type, "error", err)
		metrics.IncWebhookEvents("deferred")
		return nil
	}

	if err := p.store.MarkProcessed(ctx, ev.ID); err != nil {
		p.logger.Error("failed to mark event processed", "event", ev.ID, "error", err)
	}
	metrics.IncWebhookEvents("processed")
	return nil
}

// Apply routes a parsed event to the matching send update. Events for
// unknown provider message ids fail so the retry processor can pick them up
// once the send's provider id has been committed.
func (p *Processor) Apply(ctx context.Context, ev *Event) error {
	send, err := p.sends.GetByProviderMsgID(ctx, ev.ProviderMsgID)
	if err != nil {
		return err
	}
	if send == nil {
		return fmt.Errorf("no send for provider message id %q", ev.ProviderMsgID)
	}

	recipient := ev.Recipient
	if recipient == "" {
		recipient = send.Recipient
	}

	switch ev.Type {
	case EventDelivered:
		_, err = p.sends.MarkSent(ctx, send.ID)
		return err

	case EventBounce:
		first, err := p.sends.MarkBounced(ctx, send.ID)
		if err != nil {
			return err
		}
		if first {
			metrics.IncBounces()
		}
		return p.suppressions.Add(ctx, recipient, models.SuppressionBounced, nil)

	case EventComplaint:
		return p.suppressions.Add(ctx, recipient, models.SuppressionComplained, nil)

	case EventReply:
		first, err := p.sends.MarkReplied(ctx, send.ID)
		if err != nil {
			return err
		}
		if first {
			metrics.IncReplies()
		}
		return nil
	}

	return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
}

// ProcessRetries runs one retry pass over due event records
func (p *Processor) ProcessRetries(ctx context.Context, limit int) (*RetrySummary, error) {
	events, err := p.store.ClaimDue(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &RetrySummary{Claimed: len(events)}
	for _, record := range events {
		ev, err := ParseEvent(record.Payload)
		if err == nil {
			err = p.Apply(ctx, ev)
		}
		if err == nil {
			if markErr := p.store.MarkProcessed(ctx, record.EventID); markErr != nil {
				p.logger.Error("failed to mark event processed", "event", record.EventID, "error", markErr)
				continue
			}
			summary.Processed++
			metrics.IncWebhookEvents("processed")
			continue
		}

		if markErr := p.store.MarkFailedAttempt(ctx, record, err); markErr != nil {
			p.logger.Error("failed to record event attempt", "event", record.EventID, "error", markErr)
			continue
		}
		if record.Status == models.WebhookFailed {
			summary.Failed++
			metrics.IncWebhookEvents("failed")
			p.logger.Error("event failed after final attempt",
				"event", record.EventID, "attempts", record.Attempts, "error", err)
		} else {
			summary.Retrying++
			p.logger.Warn("event scheduled for retry",
				"event", record.EventID, "attempts", record.Attempts, "error", err)
		}
	}

	p.logger.Info("retry pass complete",
		"claimed", summary.Claimed, "processed", summary.Processed,
		"retrying", summary.Retrying, "failed", summary.Failed)
	return summary, nil
}
