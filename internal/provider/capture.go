package provider

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CapturedMessage is a message the capture provider accepted instead of
// delivering
type CapturedMessage struct {
	ProviderMsgID string
	From          string
	To            string
	Subject       string
	HTML          string
	Headers       map[string]string
	SimulatedErr  string
	CapturedAt    time.Time
}

// CaptureSender accepts messages without delivering them. It is the
// development and staging provider: sends are recorded in memory and can be
// inspected, and provider failures can be simulated to exercise the retry
// path end to end.
type CaptureSender struct {
	logger    *slog.Logger
	errorRate float64

	mu       sync.Mutex
	messages []*CapturedMessage
}

func NewCaptureSender(errorRate float64, logger *slog.Logger) *CaptureSender {
	if errorRate < 0 || errorRate > 1 {
		errorRate = 0
	}
	return &CaptureSender{
		logger:    logger.With("component", "capture_sender"),
		errorRate: errorRate,
	}
}

var simulatedErrors = []struct {
	message   string
	temporary bool
}{
	{"451 temporary failure, try again later", true},
	{"421 service not available", true},
	{"452 insufficient storage", true},
	{"550 user not found", false},
}

// Send records the message and returns a generated provider id. When error
// simulation is enabled a fraction of sends fail with realistic SMTP-style
// errors, mixing temporary and permanent outcomes.
func (s *CaptureSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	captured := &CapturedMessage{
		ProviderMsgID: uuid.New().String(),
		From:          msg.From,
		To:            msg.To,
		Subject:       msg.Subject,
		HTML:          msg.HTML,
		Headers:       msg.Headers,
		CapturedAt:    time.Now(),
	}

	if s.errorRate > 0 && rand.Float64() < s.errorRate {
		sim := simulatedErrors[rand.Intn(len(simulatedErrors))]
		captured.SimulatedErr = sim.message

		s.mu.Lock()
		s.messages = append(s.messages, captured)
		s.mu.Unlock()

		s.logger.Info("simulated delivery failure",
			"to", msg.To, "error", sim.message, "temporary", sim.temporary)
		return nil, &DeliveryError{Temporary: sim.temporary, Message: sim.message}
	}

	s.mu.Lock()
	s.messages = append(s.messages, captured)
	s.mu.Unlock()

	s.logger.Info("message captured",
		"provider_msg_id", captured.ProviderMsgID,
		"from", msg.From, "to", msg.To, "subject", msg.Subject)

	return &Result{ProviderMsgID: captured.ProviderMsgID}, nil
}

// Captured returns a snapshot of accepted messages, oldest first
func (s *CaptureSender) Captured() []*CapturedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CapturedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset discards all captured messages
func (s *CaptureSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
