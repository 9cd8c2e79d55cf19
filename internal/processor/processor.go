// Package processor drives one delivery batch: claim due queue items, run
// each through the pre-send gates, render and instrument the message, hand
// it to the provider and record the outcome. A failing item never aborts
// the batch; only infrastructure errors (claiming, reclaiming) do.
package processor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/models"
	"github.com/hireloop/courier/internal/provider"
	"github.com/hireloop/courier/internal/queue"
	"github.com/hireloop/courier/internal/template"
	"github.com/hireloop/courier/internal/tracking"
)

// Queue is the delivery queue surface the processor drives
type Queue interface {
	ClaimDueBatch(ctx context.Context, limit int) ([]*models.QueueItem, error)
	ReclaimStale(ctx context.Context) (int64, error)
	RecordOutcome(ctx context.Context, item *models.QueueItem, outcome queue.Outcome) error
	MarkFailed(ctx context.Context, item *models.QueueItem, cause error) error
	MarkSkipped(ctx context.Context, id, reason string) error
	CountDue(ctx context.Context) (int64, error)
}

// CampaignStore resolves the campaign an item belongs to
type CampaignStore interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
}

// TemplateStore resolves the template an item references
type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
}

// SuppressionChecker gates sends against the suppression list
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, address string) (bool, error)
}

// IdentityChecker gates sends on the from domain being verified
type IdentityChecker interface {
	IsVerified(ctx context.Context, address string) (bool, error)
}

// SendStore creates the engagement record for an item before hand-off
type SendStore interface {
	EnsureForItem(ctx context.Context, item *models.QueueItem) (*models.CampaignSend, error)
	MarkSent(ctx context.Context, sendID string) (bool, error)
}

// Summary reports what one batch invocation did
type Summary struct {
	Reclaimed int64 `json:"reclaimed"`
	Claimed   int   `json:"claimed"`
	Sent      int   `json:"sent"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Remaining int64 `json:"remaining"`
}

// BatchProcessor processes due queue items in claimed batches
type BatchProcessor struct {
	queue        Queue
	campaigns    CampaignStore
	templates    TemplateStore
	suppressions SuppressionChecker
	identities   IdentityChecker
	sends        SendStore
	renderer     *template.Renderer
	injector     *tracking.Injector
	sender       provider.Sender
	logger       *slog.Logger
}

func New(
	q Queue,
	campaigns CampaignStore,
	templates TemplateStore,
	suppressions SuppressionChecker,
	identities IdentityChecker,
	sends SendStore,
	renderer *template.Renderer,
	injector *tracking.Injector,
	sender provider.Sender,
	logger *slog.Logger,
) *BatchProcessor {
	return &BatchProcessor{
		queue:        q,
		campaigns:    campaigns,
		templates:    templates,
		suppressions: suppressions,
		identities:   identities,
		sends:        sends,
		renderer:     renderer,
		injector:     injector,
		sender:       sender,
		logger:       logger.With("component", "processor"),
	}
}

// ProcessBatch runs one batch: reclaim stale claims, claim up to limit due
// items and process each one. Returns the batch summary.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, limit int) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	reclaimed, err := p.queue.ReclaimStale(ctx)
	if err != nil {
		return nil, err
	}
	summary.Reclaimed = reclaimed
	if reclaimed > 0 {
		p.logger.Warn("reclaimed stale claims", "count", reclaimed)
	}

	items, err := p.queue.ClaimDueBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	summary.Claimed = len(items)

	campaignCache := make(map[string]*models.Campaign)
	for _, item := range items {
		p.processItem(ctx, item, campaignCache, summary)
	}

	if remaining, err := p.queue.CountDue(ctx); err == nil {
		summary.Remaining = remaining
	}

	metrics.ObserveBatchDuration(time.Since(start).Seconds())
	p.logger.Info("batch processed",
		"claimed", summary.Claimed, "sent", summary.Sent, "retried", summary.Retried,
		"failed", summary.Failed, "skipped", summary.Skipped, "remaining", summary.Remaining)
	return summary, nil
}

// processItem runs one claimed item through the gates and the provider.
// Every exit path resolves the claim; errors are absorbed into the item's
// own state and the summary.
func (p *BatchProcessor) processItem(ctx context.Context, item *models.QueueItem, campaignCache map[string]*models.Campaign, summary *Summary) {
	logger := p.logger.With("item", item.ID, "campaign", item.CampaignID, "recipient", item.Recipient)

	if !validAddress(item.Recipient) {
		p.skip(ctx, item, models.SkipInvalidAddress, summary, logger)
		return
	}

	c, ok := campaignCache[item.CampaignID]
	if !ok {
		loaded, err := p.campaigns.Get(ctx, item.CampaignID)
		if err != nil {
			p.retry(ctx, item, err, summary, logger)
			return
		}
		c = loaded
		campaignCache[item.CampaignID] = c
	}
	if c.Status != models.CampaignActive {
		p.skip(ctx, item, models.SkipCampaignPaused, summary, logger)
		return
	}

	suppressed, err := p.suppressions.IsSuppressed(ctx, item.Recipient)
	if err != nil {
		p.retry(ctx, item, err, summary, logger)
		return
	}
	if suppressed {
		p.skip(ctx, item, models.SkipSuppressed, summary, logger)
		return
	}

	verified, err := p.identities.IsVerified(ctx, c.FromAddress)
	if err != nil {
		p.retry(ctx, item, err, summary, logger)
		return
	}
	if !verified {
		p.skip(ctx, item, models.SkipDomainNotVerified, summary, logger)
		return
	}

	tpl, err := p.templates.GetByID(ctx, item.TemplateID)
	if err != nil {
		p.retry(ctx, item, err, summary, logger)
		return
	}
	if tpl == nil {
		p.skip(ctx, item, models.SkipTemplateMissing, summary, logger)
		return
	}

	rendered, err := p.renderer.Render(tpl.Subject, tpl.BodyHTML, renderContext(item))
	if err != nil {
		// A template that does not parse will not parse on retry either
		p.fail(ctx, item, err, summary, logger)
		return
	}

	send, err := p.sends.EnsureForItem(ctx, item)
	if err != nil {
		p.retry(ctx, item, err, summary, logger)
		return
	}

	html := p.injector.InjectTracking(rendered.Body, send.ID)
	html, headers := p.injector.InjectUnsubscribe(html, send.ID)
	if c.ReplyTo != "" {
		headers["Reply-To"] = c.ReplyTo
	}

	result, err := p.sender.Send(ctx, &provider.Message{
		From:    c.FromAddress,
		To:      item.Recipient,
		Subject: rendered.Subject,
		HTML:    html,
		Headers: headers,
	})
	if err != nil {
		if provider.IsTemporary(err) {
			p.retry(ctx, item, err, summary, logger)
		} else {
			p.fail(ctx, item, err, summary, logger)
		}
		return
	}

	if err := p.queue.RecordOutcome(ctx, item, queue.Outcome{ProviderMsgID: result.ProviderMsgID}); err != nil {
		logger.Error("failed to record success", "error", err)
	}
	if _, err := p.sends.MarkSent(ctx, send.ID); err != nil {
		logger.Error("failed to mark send", "send", send.ID, "error", err)
	}

	summary.Sent++
	metrics.IncSends("sent")
	logger.Info("message sent", "provider_msg_id", result.ProviderMsgID)
}

func (p *BatchProcessor) skip(ctx context.Context, item *models.QueueItem, reason string, summary *Summary, logger *slog.Logger) {
	if err := p.queue.MarkSkipped(ctx, item.ID, reason); err != nil {
		logger.Error("failed to mark skipped", "error", err)
		return
	}
	summary.Skipped++
	metrics.IncSends("skipped")
	logger.Info("item skipped", "reason", reason)
}

func (p *BatchProcessor) retry(ctx context.Context, item *models.QueueItem, cause error, summary *Summary, logger *slog.Logger) {
	if err := p.queue.RecordOutcome(ctx, item, queue.Outcome{Err: cause}); err != nil {
		logger.Error("failed to record failure", "error", err)
		return
	}
	if item.Status == models.QueueFailed {
		summary.Failed++
		metrics.IncSends("failed")
		logger.Warn("item failed after final attempt", "attempts", item.Attempts, "error", cause)
		return
	}
	summary.Retried++
	logger.Warn("item scheduled for retry", "attempts", item.Attempts, "retry_at", item.ScheduledFor, "error", cause)
}

func (p *BatchProcessor) fail(ctx context.Context, item *models.QueueItem, cause error, summary *Summary, logger *slog.Logger) {
	if err := p.queue.MarkFailed(ctx, item, cause); err != nil {
		logger.Error("failed to mark failed", "error", err)
		return
	}
	summary.Failed++
	metrics.IncSends("failed")
	logger.Warn("item failed permanently", "error", cause)
}

// renderContext builds the template variables for an item: the stored
// per-recipient context plus the recipient address itself.
func renderContext(item *models.QueueItem) map[string]any {
	rc := make(map[string]any, len(item.Context)+1)
	for k, v := range item.Context {
		rc[k] = v
	}
	if _, ok := rc["email"]; !ok {
		rc["email"] = item.Recipient
	}
	return rc
}

func validAddress(address string) bool {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return false
	}
	domain := address[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(address, " \t\r\n")
}
