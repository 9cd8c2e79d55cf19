// Package queue implements the persisted delivery queue: the durable work
// queue of individual messages to send, with state transitions and retry
// bookkeeping. All timing (retry backoff, staleness) is expressed as data in
// the scheduled_for column; there is no in-process timer.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

// Config holds the retry policy for the delivery queue
type Config struct {
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	StaleClaimAfter time.Duration
}

// Outcome is the result of one provider attempt for a claimed item
type Outcome struct {
	ProviderMsgID string
	Err           error
}

// DeliveryQueue is the durable queue of planned sends backed by Postgres
type DeliveryQueue struct {
	db  *sql.DB
	cfg Config
}

func New(db *sql.DB, cfg Config) *DeliveryQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Minute
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Hour
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 10 * time.Minute
	}
	return &DeliveryQueue{db: db, cfg: cfg}
}

// MaxAttempts returns the configured attempt ceiling
func (q *DeliveryQueue) MaxAttempts() int {
	return q.cfg.MaxAttempts
}

const queueItemColumns = `id, campaign_id, recipient, template_id, follow_up_number, render_context,
	scheduled_for, status, attempts, last_error, skip_reason, provider_msg_id,
	claimed_at, created_at, updated_at`

// Enqueue creates a new pending queue item. The render context carries the
// per-recipient template variables and travels with the item so a retry
// renders the identical message.
func (q *DeliveryQueue) Enqueue(ctx context.Context, campaignID, recipient, templateID string, followUpNumber int, renderContext map[string]any, scheduledFor time.Time) (*models.QueueItem, error) {
	item := &models.QueueItem{
		ID:             uuid.New().String(),
		CampaignID:     campaignID,
		Recipient:      recipient,
		TemplateID:     templateID,
		FollowUpNumber: followUpNumber,
		Context:        renderContext,
		ScheduledFor:   scheduledFor,
		Status:         models.QueuePending,
	}

	ctxJSON, err := json.Marshal(renderContext)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render context: %w", err)
	}
	if renderContext == nil {
		ctxJSON = []byte("{}")
	}

	err = q.db.QueryRowContext(ctx, `
		INSERT INTO queue_items (id, campaign_id, recipient, template_id, follow_up_number, render_context, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING created_at, updated_at`,
		item.ID, item.CampaignID, item.Recipient, item.TemplateID, item.FollowUpNumber, ctxJSON, item.ScheduledFor,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}

	return item, nil
}

// ClaimDueBatch atomically selects up to limit pending items whose
// scheduled_for has passed, flips them to sending and returns them. The
// claim is a single conditional UPDATE over a locked subselect, so two
// overlapping batch runs can never claim the same item.
func (q *DeliveryQueue) ClaimDueBatch(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE queue_items
		SET status = 'sending', claimed_at = now(), updated_at = now()
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE status = 'pending' AND scheduled_for <= now()
			ORDER BY scheduled_for
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueItemColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReclaimStale returns items stuck in sending past the staleness threshold
// to pending so a later run can retry them. An invocation that died mid-send
// leaves its claim behind; the outcome of that attempt is unknown.
func (q *DeliveryQueue) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.cfg.StaleClaimAfter)
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', claimed_at = NULL, updated_at = now()
		WHERE status = 'sending' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// RecordOutcome transitions a claimed item out of sending. On success the
// item becomes sent. On failure the attempt count is incremented; below the
// ceiling the item reverts to pending with scheduled_for pushed forward by
// exponential backoff, at the ceiling it becomes terminal failed.
func (q *DeliveryQueue) RecordOutcome(ctx context.Context, item *models.QueueItem, outcome Outcome) error {
	if outcome.Err == nil {
		res, err := q.db.ExecContext(ctx, `
			UPDATE queue_items
			SET status = 'sent', provider_msg_id = $2, last_error = NULL, updated_at = now()
			WHERE id = $1 AND status = 'sending'`,
			item.ID, outcome.ProviderMsgID,
		)
		if err != nil {
			return fmt.Errorf("failed to record success: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			item.Status = models.QueueSent
			item.ProviderMsgID = outcome.ProviderMsgID
		}
		return nil
	}

	attempts := item.Attempts + 1
	retryAt := time.Now().Add(q.Backoff(attempts))

	err := q.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    scheduled_for = CASE WHEN attempts + 1 >= $3 THEN scheduled_for ELSE $4 END,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
		RETURNING attempts, status, scheduled_for`,
		item.ID, outcome.Err.Error(), q.cfg.MaxAttempts, retryAt,
	).Scan(&item.Attempts, &item.Status, &item.ScheduledFor)
	if err == sql.ErrNoRows {
		// Someone else already resolved the item; the claim guard makes this
		// benign.
		item.Attempts = attempts
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	item.LastError = outcome.Err.Error()
	return nil
}

// MarkFailed makes a claimed item terminal failed without burning further
// retries. Used for permanent provider rejections where retrying the same
// message can never succeed.
func (q *DeliveryQueue) MarkFailed(ctx context.Context, item *models.QueueItem, cause error) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'failed', attempts = attempts + 1, last_error = $2, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'sending'`,
		item.ID, cause.Error(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		item.Status = models.QueueFailed
		item.Attempts++
		item.LastError = cause.Error()
	}
	return nil
}

// MarkSkipped makes a claimed item terminal with a skip reason
func (q *DeliveryQueue) MarkSkipped(ctx context.Context, id, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'skipped', skip_reason = $2, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'sending'`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item skipped: %w", err)
	}
	return nil
}

// Backoff returns the retry delay after the given attempt count,
// base * 2^(attempts-1) capped at the configured maximum.
func (q *DeliveryQueue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 12 {
		shift = 12
	}
	d := q.cfg.RetryBaseDelay * time.Duration(1<<shift)
	if d > q.cfg.RetryMaxDelay {
		return q.cfg.RetryMaxDelay
	}
	return d
}

// CountDue returns how many pending items are due now
func (q *DeliveryQueue) CountDue(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= now()`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due items: %w", err)
	}
	return n, nil
}

// Get retrieves a queue item by id
func (q *DeliveryQueue) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List returns queue items, optionally filtered by status, newest first
func (q *DeliveryQueue) List(ctx context.Context, status models.QueueItemStatus, limit int) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats returns queue item counts by status plus the currently due count
func (q *DeliveryQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{}
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'skipped'),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_for <= now())
		FROM queue_items`,
	).Scan(&stats.Pending, &stats.Sending, &stats.Sent, &stats.Failed, &stats.Skipped, &stats.Due)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var lastError, skipReason, providerMsgID sql.NullString
	var claimedAt sql.NullTime
	var ctxJSON []byte

	err := row.Scan(
		&item.ID, &item.CampaignID, &item.Recipient, &item.TemplateID, &item.FollowUpNumber, &ctxJSON,
		&item.ScheduledFor, &item.Status, &item.Attempts, &lastError, &skipReason, &providerMsgID,
		&claimedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &item.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal render context: %w", err)
		}
	}
	item.LastError = lastError.String
	item.SkipReason = skipReason.String
	item.ProviderMsgID = providerMsgID.String
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Time
	}
	return item, nil
}
