package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hireloop/courier/internal/models"
)

// Store persists webhook event records. The provider event id is the
// primary key, so recording the same delivery twice is a no-op and an event
// is applied at most once.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Config holds the retry policy for failed event processing
type Config struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func NewStore(db *sql.DB, cfg Config) *Store {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Minute
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Hour
	}
	return &Store{db: db, cfg: cfg}
}

// Record inserts a new event record in pending status. Returns false if the
// event id was already recorded.
func (s *Store) Record(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClaimDue atomically claims up to limit events due for processing by
// pushing their next_retry_at forward, so an overlapping retry run cannot
// pick them up again.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE webhook_events
		SET next_retry_at = now() + interval '10 minutes', updated_at = now()
		WHERE event_id IN (
			SELECT event_id FROM webhook_events
			WHERE status IN ('pending', 'retrying') AND next_retry_at <= now()
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, event_type, payload, status, attempts, next_retry_at, last_error, created_at, updated_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook events: %w", err)
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		ev := &models.WebhookEvent{}
		var lastError sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.Payload, &ev.Status, &ev.Attempts,
			&ev.NextRetryAt, &lastError, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.LastError = lastError.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkProcessed finalizes a successfully applied event
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'processed', last_error = NULL, updated_at = now()
		WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkFailedAttempt records a failed processing attempt. Below the attempt
// ceiling the event moves to retrying with backoff; at the ceiling it
// becomes terminal failed.
func (s *Store) MarkFailedAttempt(ctx context.Context, ev *models.WebhookEvent, cause error) error {
	attempts := ev.Attempts + 1
	retryAt := time.Now().Add(s.Backoff(attempts))

	err := s.db.QueryRowContext(ctx, `
		UPDATE webhook_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'retrying' END,
		    next_retry_at = $4,
		    updated_at = now()
		WHERE event_id = $1
		RETURNING attempts, status`,
		ev.EventID, cause.Error(), s.cfg.MaxAttempts, retryAt,
	).Scan(&ev.Attempts, &ev.Status)
	if err != nil {
		return fmt.Errorf("failed to record event attempt: %w", err)
	}
	ev.LastError = cause.Error()
	ev.NextRetryAt = retryAt
	return nil
}

// Backoff returns the retry delay after the given attempt count
func (s *Store) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 12 {
		shift = 12
	}
	d := s.cfg.RetryBaseDelay * time.Duration(1<<shift)
	if d > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return d
}

// Stats returns event record counts by status
func (s *Store) Stats(ctx context.Context) (*models.WebhookStats, error) {
	stats := &models.WebhookStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'processed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM webhook_events`,
	).Scan(&stats.Pending, &stats.Retrying, &stats.Processed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook stats: %w", err)
	}
	return stats, nil
}
