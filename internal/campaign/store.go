// Package campaign persists outreach campaigns and their lifecycle
// transitions.
package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
)

// Store persists campaigns
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const campaignColumns = `id, org_id, name, status, from_address, reply_to,
	follow_up_max, follow_up_interval_hours, stop_on_reply,
	total_sent, total_opened, total_clicked, total_replied, total_bounced,
	created_at, updated_at`

// Create inserts a new campaign in draft status
func (s *Store) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	if c.FollowUpInterval <= 0 {
		c.FollowUpInterval = 72
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (id, org_id, name, status, from_address, reply_to,
			follow_up_max, follow_up_interval_hours, stop_on_reply)
		VALUES ($1, $2, $3, 'draft', $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		c.ID, c.OrgID, c.Name, c.FromAddress, nullable(c.ReplyTo),
		c.FollowUpMax, c.FollowUpInterval, c.StopOnReply,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Get returns a campaign by id
func (s *Store) Get(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// allowedTransitions enumerates legal status moves. Completed is terminal.
var allowedTransitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.CampaignDraft:  {models.CampaignActive},
	models.CampaignActive: {models.CampaignPaused, models.CampaignCompleted},
	models.CampaignPaused: {models.CampaignActive, models.CampaignCompleted},
}

// Transition moves a campaign to a new status, enforcing the lifecycle
// rules in a single conditional UPDATE.
func (s *Store) Transition(ctx context.Context, id string, to models.CampaignStatus) (*models.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, to, c.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race with a concurrent transition
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}

	c.Status = to
	return c, nil
}

// Stats returns the campaign's engagement counters plus live queue counts
func (s *Store) Stats(ctx context.Context, id string) (*models.CampaignStats, error) {
	stats := &models.CampaignStats{CampaignID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT c.total_sent, c.total_opened, c.total_clicked, c.total_replied, c.total_bounced,
			COUNT(qi.id) FILTER (WHERE qi.status = 'pending'),
			COUNT(qi.id) FILTER (WHERE qi.status = 'failed')
		FROM campaigns c
		LEFT JOIN queue_items qi ON qi.campaign_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`,
		id,
	).Scan(&stats.TotalSent, &stats.TotalOpened, &stats.TotalClicked,
		&stats.TotalReplied, &stats.TotalBounced, &stats.Pending, &stats.Failed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}
	return stats, nil
}

func transitionAllowed(from, to models.CampaignStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var replyTo sql.NullString
	err := row.Scan(
		&c.ID, &c.OrgID, &c.Name, &c.Status, &c.FromAddress, &replyTo,
		&c.FollowUpMax, &c.FollowUpInterval, &c.StopOnReply,
		&c.TotalSent, &c.TotalOpened, &c.TotalClicked, &c.TotalReplied, &c.TotalBounced,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ReplyTo = replyTo.String
	return c, nil
}
