package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPSender submits messages to an ESP-style REST API. Transient failures
// (network errors, 429, 5xx) are retried briefly with exponential backoff
// inside a single queue attempt; anything still failing surfaces as a
// temporary DeliveryError and falls back to the queue's retry policy.
type HTTPSender struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
}

type httpSendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

type httpSendResponse struct {
	ID string `json:"id"`
}

type httpErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPSender(baseURL, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxElapsed: 20 * time.Second,
	}
}

// Send submits the message, returning the provider-assigned message id
func (s *HTTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	payload, err := json.Marshal(httpSendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Headers: msg.Headers,
	})
	if err != nil {
		return nil, &DeliveryError{Temporary: false, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = s.maxElapsed

	var result *Result
	op := func() error {
		res, err := s.attempt(ctx, payload)
		if err != nil {
			if !IsTemporary(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return nil, pe.Unwrap()
		}
		return nil, err
	}
	return result, nil
}

func (s *HTTPSender) attempt(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, &DeliveryError{Temporary: false, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &DeliveryError{Temporary: true, Message: fmt.Sprintf("provider request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := parseErrorDetail(body, resp.StatusCode)
		temporary := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &DeliveryError{Temporary: temporary, Message: detail}
	}

	var sendResp httpSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, &DeliveryError{Temporary: true, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if sendResp.ID == "" {
		return nil, &DeliveryError{Temporary: true, Message: "provider returned no message id"}
	}

	return &Result{ProviderMsgID: sendResp.ID}, nil
}

func parseErrorDetail(body []byte, status int) string {
	var errResp httpErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Sprintf("provider error (HTTP %d): %s", status, errResp.Error)
	}
	return fmt.Sprintf("provider error: HTTP %d", status)
}
