package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hireloop/courier/internal/campaign"
	"github.com/hireloop/courier/internal/identity"
	"github.com/hireloop/courier/internal/models"
)

// --- Campaigns ---

type createCampaignRequest struct {
	OrgID            string `json:"org_id"`
	Name             string `json:"name"`
	FromAddress      string `json:"from_address"`
	ReplyTo          string `json:"reply_to"`
	FollowUpMax      int    `json:"follow_up_max"`
	FollowUpInterval int    `json:"follow_up_interval_hours"`
	StopOnReply      *bool  `json:"stop_on_reply"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.FromAddress == "" || req.OrgID == "" {
		respondError(w, http.StatusBadRequest, "org_id, name and from_address are required")
		return
	}

	c := &models.Campaign{
		OrgID:            req.OrgID,
		Name:             req.Name,
		FromAddress:      req.FromAddress,
		ReplyTo:          req.ReplyTo,
		FollowUpMax:      req.FollowUpMax,
		FollowUpInterval: req.FollowUpInterval,
		StopOnReply:      true,
	}
	if req.StopOnReply != nil {
		c.StopOnReply = *req.StopOnReply
	}

	if err := s.deps.Campaigns.Create(r.Context(), c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.deps.Campaigns.List(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, campaign.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, campaign.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get campaign stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCampaignTransition(to models.CampaignStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.deps.Campaigns.Transition(r.Context(), chi.URLParam(r, "id"), to)
		if errors.Is(err, campaign.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		if errors.Is(err, campaign.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to transition campaign")
			return
		}
		respondJSON(w, http.StatusOK, c)
	}
}

// --- Templates ---

type createTemplateRequest struct {
	Sequence int    `json:"sequence"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Subject == "" || req.BodyHTML == "" {
		respondError(w, http.StatusBadRequest, "subject and body_html are required")
		return
	}

	tpl := &models.Template{
		CampaignID: chi.URLParam(r, "id"),
		Sequence:   req.Sequence,
		Subject:    req.Subject,
		BodyHTML:   req.BodyHTML,
	}
	if err := s.deps.Templates.Create(r.Context(), tpl); err != nil {
		s.logger.Error("failed to create template", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.deps.Templates.ListByCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": tpls})
}

// --- Recipients ---

type enqueueRecipientsRequest struct {
	Recipients []recipientEntry `json:"recipients"`
	// ScheduledFor defers the initial send; zero means now
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type recipientEntry struct {
	Email   string         `json:"email"`
	Context map[string]any `json:"context,omitempty"`
}

// handleEnqueueRecipients enqueues the campaign's first-sequence message for
// each recipient. Per-recipient failures are reported without aborting the
// rest of the batch.
func (s *Server) handleEnqueueRecipients(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var req enqueueRecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Recipients) == 0 {
		respondError(w, http.StatusBadRequest, "recipients are required")
		return
	}

	if _, err := s.deps.Campaigns.Get(r.Context(), campaignID); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	tpl, err := s.deps.Templates.GetBySequence(r.Context(), campaignID, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve template")
		return
	}
	if tpl == nil {
		respondError(w, http.StatusConflict, "campaign has no template at sequence 0")
		return
	}

	scheduledFor := time.Now()
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	enqueued := 0
	var failed []string
	for _, rec := range req.Recipients {
		if rec.Email == "" {
			continue
		}
		if _, err := s.deps.Queue.Enqueue(r.Context(), campaignID, rec.Email, tpl.ID, 0, rec.Context, scheduledFor); err != nil {
			s.logger.Error("failed to enqueue recipient", "campaign", campaignID, "recipient", rec.Email, "error", err)
			failed = append(failed, rec.Email)
			continue
		}
		enqueued++
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"enqueued": enqueued,
		"failed":   failed,
	})
}

// --- Suppressions ---

type addSuppressionRequest struct {
	Address   string     `json:"address"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleAddSuppression(w http.ResponseWriter, r *http.Request) {
	var req addSuppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Reason == "" {
		req.Reason = models.SuppressionManual
	}

	if err := s.deps.Suppressions.Add(r.Context(), req.Address, req.Reason, req.ExpiresAt); err != nil {
		s.logger.Error("failed to add suppression", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to add suppression")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"address": req.Address, "reason": req.Reason})
}

func (s *Server) handleRemoveSuppression(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || address == "" {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}

	if err := s.deps.Suppressions.Remove(r.Context(), address); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to remove suppression")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Suppressions.List(r.Context(), queryLimit(r, 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list suppressions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"suppressions": entries})
}

// --- Domains ---

type createDomainRequest struct {
	OrgID  string `json:"org_id"`
	Domain string `json:"domain"`
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ident, err := s.deps.Identities.Create(r.Context(), req.OrgID, req.Domain)
	if errors.Is(err, identity.ErrInvalidDomain) {
		respondError(w, http.StatusBadRequest, "invalid domain name")
		return
	}
	if errors.Is(err, identity.ErrDomainExists) {
		respondError(w, http.StatusConflict, "domain already registered")
		return
	}
	if err != nil {
		s.logger.Error("failed to create domain identity", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create domain identity")
		return
	}

	records, err := s.deps.Identities.Records(ident)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build DNS records")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"domain":      publicIdentity(ident),
		"dns_records": records,
	})
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	identities, err := s.deps.Identities.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}

	out := make([]map[string]any, 0, len(identities))
	for _, ident := range identities {
		out = append(out, publicIdentity(ident))
	}
	respondJSON(w, http.StatusOK, map[string]any{"domains": out})
}

func (s *Server) handleDomainRecords(w http.ResponseWriter, r *http.Request) {
	ident, err := s.deps.Identities.Get(r.Context(), chi.URLParam(r, "domain"))
	if errors.Is(err, identity.ErrDomainNotFound) {
		respondError(w, http.StatusNotFound, "domain not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get domain")
		return
	}

	records, err := s.deps.Identities.Records(ident)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build DNS records")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"dns_records": records})
}

func (s *Server) handleVerifyDomain(w http.ResponseWriter, r *http.Request) {
	ident, err := s.deps.Identities.Verify(r.Context(), chi.URLParam(r, "domain"))
	if errors.Is(err, identity.ErrDomainNotFound) {
		respondError(w, http.StatusNotFound, "domain not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to verify domain", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to verify domain")
		return
	}
	respondJSON(w, http.StatusOK, publicIdentity(ident))
}

// publicIdentity strips the private key from API responses
func publicIdentity(ident *models.DomainIdentity) map[string]any {
	return map[string]any{
		"id":              ident.ID,
		"org_id":          ident.OrgID,
		"domain":          ident.Domain,
		"selector":        ident.Selector,
		"status":          ident.Status,
		"last_checked_at": ident.LastCheckedAt,
		"created_at":      ident.CreatedAt,
	}
}

// --- Queue ---

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	status := models.QueueItemStatus(r.URL.Query().Get("status"))
	items, err := s.deps.Queue.List(r.Context(), status, queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return fallback
	}
	return n
}
