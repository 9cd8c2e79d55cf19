package template

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

// Store persists campaign templates
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a template at the given sequence position
func (s *Store) Create(ctx context.Context, tpl *models.Template) error {
	tpl.ID = uuid.New().String()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (id, campaign_id, sequence, subject, body_html)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		tpl.ID, tpl.CampaignID, tpl.Sequence, tpl.Subject, tpl.BodyHTML,
	).Scan(&tpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by id, nil if not found
func (s *Store) GetByID(ctx context.Context, id string) (*models.Template, error) {
	tpl := &models.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, sequence, subject, body_html, created_at
		FROM templates WHERE id = $1`, id,
	).Scan(&tpl.ID, &tpl.CampaignID, &tpl.Sequence, &tpl.Subject, &tpl.BodyHTML, &tpl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// GetBySequence returns the template at a sequence position within a
// campaign, nil if the sequence is exhausted
func (s *Store) GetBySequence(ctx context.Context, campaignID string, sequence int) (*models.Template, error) {
	tpl := &models.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, sequence, subject, body_html, created_at
		FROM templates WHERE campaign_id = $1 AND sequence = $2`,
		campaignID, sequence,
	).Scan(&tpl.ID, &tpl.CampaignID, &tpl.Sequence, &tpl.Subject, &tpl.BodyHTML, &tpl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template by sequence: %w", err)
	}
	return tpl, nil
}

// ListByCampaign returns a campaign's templates in sequence order
func (s *Store) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, sequence, subject, body_html, created_at
		FROM templates WHERE campaign_id = $1 ORDER BY sequence`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var tpls []*models.Template
	for rows.Next() {
		tpl := &models.Template{}
		if err := rows.Scan(&tpl.ID, &tpl.CampaignID, &tpl.Sequence, &tpl.Subject, &tpl.BodyHTML, &tpl.CreatedAt); err != nil {
			return nil, err
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}
