package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Courier-Signature"

const maxPayloadBytes = 64 * 1024

// Handler receives provider webhook deliveries over HTTP
type Handler struct {
	processor *Processor
	secret    string
	logger    *slog.Logger
}

func NewHandler(processor *Processor, secret string, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		secret:    secret,
		logger:    logger.With("component", "webhook"),
	}
}

// ServeHTTP handles POST deliveries. The provider signs the body with the
// shared secret; unsigned or mis-signed deliveries are rejected before any
// parsing. A valid delivery is always acknowledged with 200 once recorded,
// even when applying it is deferred to the retry processor.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if err := h.processor.Ingest(r.Context(), body); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to ingest webhook", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		// No secret configured: accept everything, for local development only
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature for a payload, shared with tests and any
// internal event producers.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
