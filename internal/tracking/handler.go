package tracking

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/models"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EngagementStore applies first-event-wins engagement updates
type EngagementStore interface {
	GetByID(ctx context.Context, id string) (*models.CampaignSend, error)
	MarkOpened(ctx context.Context, sendID string) (bool, error)
	MarkClicked(ctx context.Context, sendID string) (bool, error)
}

// Suppressor records do-not-send addresses
type Suppressor interface {
	Add(ctx context.Context, address, reason string, expiresAt *time.Time) error
}

// Handler serves the tracking pixel, click redirector and unsubscribe
// endpoints. Tracking updates are dispatched off the request path with their
// own error boundary: a failed or slow update never breaks the pixel
// response or the visitor's redirect.
type Handler struct {
	sends           EngagementStore
	suppressions    Suppressor
	defaultRedirect string
	logger          *slog.Logger

	// dispatch runs a tracking update outside the response path. Tests
	// replace it with a synchronous version.
	dispatch func(fn func(ctx context.Context))
}

func NewHandler(sends EngagementStore, suppressions Suppressor, defaultRedirect string, logger *slog.Logger) *Handler {
	h := &Handler{
		sends:           sends,
		suppressions:    suppressions,
		defaultRedirect: defaultRedirect,
		logger:          logger.With("component", "tracking"),
	}
	h.dispatch = func(fn func(ctx context.Context)) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("tracking update panicked", "panic", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			fn(ctx)
		}()
	}
	return h
}

// Routes returns the tracking routes, mounted under /t
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open", h.HandleOpen)
	r.Get("/click", h.HandleClick)
	r.Get("/unsubscribe", h.HandleUnsubscribe)
	r.Post("/unsubscribe", h.HandleUnsubscribe)
	return r
}

// HandleOpen records the first open for a send and unconditionally serves
// the pixel. Tracking failures are never exposed to the pixel request.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if sid != "" {
		h.dispatch(func(ctx context.Context) {
			first, err := h.sends.MarkOpened(ctx, sid)
			if err != nil {
				h.logger.Warn("open tracking failed", "sid", sid, "error", err)
				return
			}
			if first {
				metrics.IncOpens()
				h.logger.Debug("open recorded", "sid", sid)
			}
		})
	}
	h.servePixel(w)
}

// HandleClick records the first click for a send and always redirects to the
// original target, even when tracking fails or the sid is unknown.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	target := r.URL.Query().Get("url")

	if sid != "" {
		h.dispatch(func(ctx context.Context) {
			first, err := h.sends.MarkClicked(ctx, sid)
			if err != nil {
				h.logger.Warn("click tracking failed", "sid", sid, "error", err)
				return
			}
			if first {
				metrics.IncClicks()
				h.logger.Debug("click recorded", "sid", sid)
			}
		})
	}

	http.Redirect(w, r, h.safeTarget(target), http.StatusFound)
}

// HandleUnsubscribe suppresses the send's recipient and confirms. POST
// serves RFC 8058 one-click unsubscribe.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")

	if sid != "" {
		send, err := h.sends.GetByID(r.Context(), sid)
		if err != nil {
			h.logger.Warn("unsubscribe lookup failed", "sid", sid, "error", err)
		} else if send != nil {
			if err := h.suppressions.Add(r.Context(), send.Recipient, models.SuppressionUnsubscribed, nil); err != nil {
				h.logger.Error("failed to suppress recipient", "sid", sid, "error", err)
			} else {
				metrics.IncUnsubscribes()
				h.logger.Info("recipient unsubscribed", "sid", sid)
			}
		}
	}

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from this sender.</p>
	</body></html>`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// safeTarget returns the redirect destination, falling back to the
// configured default for absent or non-http targets.
func (h *Handler) safeTarget(target string) string {
	if target == "" {
		return h.defaultRedirect
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return h.defaultRedirect
	}
	return target
}
