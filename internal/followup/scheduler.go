// Package followup schedules follow-up sends for recipients who have not
// engaged. It runs as a periodic pass over delivered sends; everything it
// decides is written into the delivery queue as ordinary pending items, so
// follow-ups flow through the same batch processor and gates as initial
// sends.
package followup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/models"
)

// TemplateStore resolves the next template in a campaign's sequence
type TemplateStore interface {
	GetBySequence(ctx context.Context, campaignID string, sequence int) (*models.Template, error)
}

// Enqueuer creates pending queue items
type Enqueuer interface {
	Enqueue(ctx context.Context, campaignID, recipient, templateID string, followUpNumber int, renderContext map[string]any, scheduledFor time.Time) (*models.QueueItem, error)
}

// Result summarizes one scheduler pass
type Result struct {
	Candidates int `json:"candidates"`
	Scheduled  int `json:"scheduled"`
	Exhausted  int `json:"exhausted"`
}

// Scheduler finds recipients due for a follow-up and enqueues the next
// message in the sequence
type Scheduler struct {
	db        *sql.DB
	templates TemplateStore
	queue     Enqueuer
	maxPerRun int
	logger    *slog.Logger
}

func New(db *sql.DB, templates TemplateStore, queue Enqueuer, maxPerRun int, logger *slog.Logger) *Scheduler {
	if maxPerRun <= 0 {
		maxPerRun = 100
	}
	return &Scheduler{
		db:        db,
		templates: templates,
		queue:     queue,
		maxPerRun: maxPerRun,
		logger:    logger.With("component", "followup"),
	}
}

// candidate is one (campaign, recipient) pair with the aggregates the gating
// rules are evaluated against
type candidate struct {
	campaignID    string
	recipient     string
	followUpMax   int
	intervalHours int
	stopOnReply   bool
	lastNumber    int
	lastSentAt    time.Time
	bounced       int
	replied       int
	renderContext map[string]any
}

// candidateQuery narrows to recipients of active campaigns with follow-ups
// configured, dropping anyone with an in-flight queue item or an active
// suppression, and returns the per-recipient send aggregates. The gating
// rules themselves are applied by dueForFollowUp.
const candidateQuery = `
SELECT c.id AS campaign_id,
	cs.recipient,
	c.follow_up_max,
	c.follow_up_interval_hours,
	c.stop_on_reply,
	MAX(cs.follow_up_number) AS last_number,
	MAX(cs.sent_at) AS last_sent_at,
	COUNT(*) FILTER (WHERE cs.bounced_at IS NOT NULL) AS bounced,
	COUNT(*) FILTER (WHERE cs.replied_at IS NOT NULL) AS replied,
	COALESCE((
		SELECT qi2.render_context FROM queue_items qi2
		WHERE qi2.campaign_id = c.id AND qi2.recipient = cs.recipient
		ORDER BY qi2.created_at DESC LIMIT 1
	), '{}') AS render_context
FROM campaigns c
JOIN campaign_sends cs ON cs.campaign_id = c.id
WHERE c.status = 'active'
  AND c.follow_up_max > 0
  AND cs.sent_at IS NOT NULL
  AND NOT EXISTS (
	SELECT 1 FROM queue_items qi
	WHERE qi.campaign_id = c.id
	  AND qi.recipient = cs.recipient
	  AND qi.status IN ('pending', 'sending')
  )
  AND NOT EXISTS (
	SELECT 1 FROM suppressions s
	WHERE s.address = lower(cs.recipient)
	  AND (s.expires_at IS NULL OR s.expires_at > now())
  )
GROUP BY c.id, cs.recipient
LIMIT $1`

// dueForFollowUp applies the gating rules to one candidate: below the
// campaign's follow-up ceiling, last send older than the interval, never
// bounced, and never replied when the campaign stops on reply.
func dueForFollowUp(cand candidate, now time.Time) bool {
	if cand.lastNumber+1 > cand.followUpMax {
		return false
	}
	if cand.bounced > 0 {
		return false
	}
	if cand.stopOnReply && cand.replied > 0 {
		return false
	}
	interval := time.Duration(cand.intervalHours) * time.Hour
	return !cand.lastSentAt.After(now.Add(-interval))
}

// Run executes one scheduler pass: find due candidates and enqueue the next
// sequence template for each. Recipients whose campaign has no further
// template are counted as exhausted and left alone.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	candidates, err := s.findCandidates(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Candidates: len(candidates)}
	now := time.Now()
	for _, cand := range candidates {
		if !dueForFollowUp(cand, now) {
			continue
		}
		next := cand.lastNumber + 1

		tpl, err := s.templates.GetBySequence(ctx, cand.campaignID, next)
		if err != nil {
			s.logger.Error("failed to resolve follow-up template",
				"campaign", cand.campaignID, "sequence", next, "error", err)
			continue
		}
		if tpl == nil {
			result.Exhausted++
			continue
		}

		item, err := s.queue.Enqueue(ctx, cand.campaignID, cand.recipient, tpl.ID, next, cand.renderContext, now)
		if err != nil {
			s.logger.Error("failed to enqueue follow-up",
				"campaign", cand.campaignID, "recipient", cand.recipient, "error", err)
			continue
		}
		result.Scheduled++
		s.logger.Info("follow-up scheduled",
			"item", item.ID, "campaign", cand.campaignID,
			"recipient", cand.recipient, "follow_up", next)
	}

	metrics.IncFollowUps(result.Scheduled)
	s.logger.Info("scheduler pass complete",
		"candidates", result.Candidates, "scheduled", result.Scheduled, "exhausted", result.Exhausted)
	return result, nil
}

func (s *Scheduler) findCandidates(ctx context.Context) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, candidateQuery, s.maxPerRun)
	if err != nil {
		return nil, fmt.Errorf("failed to find follow-up candidates: %w", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var cand candidate
		var ctxJSON []byte
		if err := rows.Scan(
			&cand.campaignID, &cand.recipient,
			&cand.followUpMax, &cand.intervalHours, &cand.stopOnReply,
			&cand.lastNumber, &cand.lastSentAt, &cand.bounced, &cand.replied,
			&ctxJSON,
		); err != nil {
			return nil, err
		}
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &cand.renderContext); err != nil {
				return nil, fmt.Errorf("failed to unmarshal render context: %w", err)
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates, rows.Err()
}
