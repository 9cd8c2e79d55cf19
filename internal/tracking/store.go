package tracking

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

// SendStore persists CampaignSend records and applies first-event-wins
// updates. Every engagement update is a single conditional statement guarded
// by the relevant timestamp still being null, and the matching campaign
// counter is incremented in the same transaction, so a duplicate tracking
// hit or retried webhook can never double-count.
type SendStore struct {
	db *sql.DB
}

func NewSendStore(db *sql.DB) *SendStore {
	return &SendStore{db: db}
}

const sendColumns = `id, campaign_id, queue_item_id, recipient, follow_up_number,
	status, sent_at, opened_at, clicked_at, replied_at, bounced_at, created_at, updated_at`

// EnsureForItem creates the CampaignSend for a queue item if it does not
// exist yet and returns it. The queue item id is the idempotency key, so
// re-driving a partially processed item reuses the same send (and therefore
// the same tracking URLs).
func (s *SendStore) EnsureForItem(ctx context.Context, item *models.QueueItem) (*models.CampaignSend, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_sends (id, campaign_id, queue_item_id, recipient, follow_up_number, status)
		VALUES ($1, $2, $3, $4, $5, 'queued')
		ON CONFLICT (queue_item_id) DO NOTHING`,
		uuid.New().String(), item.CampaignID, item.ID, item.Recipient, item.FollowUpNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure campaign send: %w", err)
	}

	send := &models.CampaignSend{}
	err = s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+sendColumns+` FROM campaign_sends WHERE queue_item_id = $1`, item.ID), send)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign send: %w", err)
	}
	return send, nil
}

// GetByID returns a send by id, nil if not found
func (s *SendStore) GetByID(ctx context.Context, id string) (*models.CampaignSend, error) {
	send := &models.CampaignSend{}
	err := s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+sendColumns+` FROM campaign_sends WHERE id = $1`, id), send)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign send: %w", err)
	}
	return send, nil
}

// GetByProviderMsgID resolves a send from the provider-assigned message id
// carried in webhook events, nil if unknown.
func (s *SendStore) GetByProviderMsgID(ctx context.Context, providerMsgID string) (*models.CampaignSend, error) {
	send := &models.CampaignSend{}
	err := s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+prefixColumns("cs")+`
		FROM campaign_sends cs
		JOIN queue_items qi ON qi.id = cs.queue_item_id
		WHERE qi.provider_msg_id = $1`, providerMsgID), send)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get send by provider id: %w", err)
	}
	return send, nil
}

// MarkSent records the successful provider hand-off: sets sent_at once and
// increments the campaign's total_sent exactly once.
func (s *SendStore) MarkSent(ctx context.Context, sendID string) (bool, error) {
	return s.firstEvent(ctx, sendID, `
		UPDATE campaign_sends
		SET sent_at = now(),
		    status = CASE WHEN status = 'queued' THEN 'sent' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND sent_at IS NULL
		RETURNING campaign_id`,
		`UPDATE campaigns SET total_sent = total_sent + 1, updated_at = now() WHERE id = $1`)
}

// MarkOpened applies the first open for a send. Subsequent opens are no-ops.
func (s *SendStore) MarkOpened(ctx context.Context, sendID string) (bool, error) {
	return s.firstEvent(ctx, sendID, `
		UPDATE campaign_sends
		SET opened_at = now(),
		    status = CASE WHEN status IN ('queued', 'sent') THEN 'opened' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND opened_at IS NULL
		RETURNING campaign_id`,
		`UPDATE campaigns SET total_opened = total_opened + 1, updated_at = now() WHERE id = $1`)
}

// MarkClicked applies the first click for a send. Subsequent clicks are
// no-ops.
func (s *SendStore) MarkClicked(ctx context.Context, sendID string) (bool, error) {
	return s.firstEvent(ctx, sendID, `
		UPDATE campaign_sends
		SET clicked_at = now(),
		    status = CASE WHEN status IN ('queued', 'sent', 'opened') THEN 'clicked' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND clicked_at IS NULL
		RETURNING campaign_id`,
		`UPDATE campaigns SET total_clicked = total_clicked + 1, updated_at = now() WHERE id = $1`)
}

// MarkReplied applies the first reply for a send
func (s *SendStore) MarkReplied(ctx context.Context, sendID string) (bool, error) {
	return s.firstEvent(ctx, sendID, `
		UPDATE campaign_sends
		SET replied_at = now(),
		    status = CASE WHEN status NOT IN ('bounced', 'failed') THEN 'replied' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND replied_at IS NULL
		RETURNING campaign_id`,
		`UPDATE campaigns SET total_replied = total_replied + 1, updated_at = now() WHERE id = $1`)
}

// MarkBounced moves a send to the terminal bounced state
func (s *SendStore) MarkBounced(ctx context.Context, sendID string) (bool, error) {
	return s.firstEvent(ctx, sendID, `
		UPDATE campaign_sends
		SET bounced_at = now(), status = 'bounced', updated_at = now()
		WHERE id = $1 AND bounced_at IS NULL
		RETURNING campaign_id`,
		`UPDATE campaigns SET total_bounced = total_bounced + 1, updated_at = now() WHERE id = $1`)
}

// firstEvent runs a conditional send update and, only if a row was updated,
// the matching campaign counter increment, in one transaction. Returns
// whether this call was the first event.
func (s *SendStore) firstEvent(ctx context.Context, sendID, sendQuery, counterQuery string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var campaignID string
	err = tx.QueryRowContext(ctx, sendQuery, sendID).Scan(&campaignID)
	if err == sql.ErrNoRows {
		// Timestamp already set: first event wins, this one is a no-op
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update send: %w", err)
	}

	if _, err := tx.ExecContext(ctx, counterQuery, campaignID); err != nil {
		return false, fmt.Errorf("failed to increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

func (s *SendStore) scanOne(row *sql.Row, send *models.CampaignSend) error {
	var sentAt, openedAt, clickedAt, repliedAt, bouncedAt sql.NullTime
	err := row.Scan(
		&send.ID, &send.CampaignID, &send.QueueItemID, &send.Recipient, &send.FollowUpNumber,
		&send.Status, &sentAt, &openedAt, &clickedAt, &repliedAt, &bouncedAt,
		&send.CreatedAt, &send.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if sentAt.Valid {
		send.SentAt = &sentAt.Time
	}
	if openedAt.Valid {
		send.OpenedAt = &openedAt.Time
	}
	if clickedAt.Valid {
		send.ClickedAt = &clickedAt.Time
	}
	if repliedAt.Valid {
		send.RepliedAt = &repliedAt.Time
	}
	if bouncedAt.Valid {
		send.BouncedAt = &bouncedAt.Time
	}
	return nil
}

func prefixColumns(prefix string) string {
	return prefix + `.id, ` + prefix + `.campaign_id, ` + prefix + `.queue_item_id, ` +
		prefix + `.recipient, ` + prefix + `.follow_up_number, ` + prefix + `.status, ` +
		prefix + `.sent_at, ` + prefix + `.opened_at, ` + prefix + `.clicked_at, ` +
		prefix + `.replied_at, ` + prefix + `.bounced_at, ` + prefix + `.created_at, ` + prefix + `.updated_at`
}
