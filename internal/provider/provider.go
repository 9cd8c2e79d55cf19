// Package provider abstracts the external send providers. The core treats a
// provider as an opaque, possibly-failing remote call; authentication and
// wire formatting are the adapter's concern.
package provider

import "context"

// Message is a fully rendered, tracking-injected outbound email
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Headers map[string]string
}

// Result is a successful provider hand-off
type Result struct {
	ProviderMsgID string
}

// Sender hands a message to an external delivery provider
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// DeliveryError carries whether a failure is worth retrying. Transient
// provider errors (network, 5xx, throttling) are temporary; recipient errors
// (invalid address, rejected sender) are permanent.
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporary reports whether err is a retryable delivery error. Unknown
// error types are treated as temporary so a transient infrastructure blip
// is not turned into a permanent failure.
func IsTemporary(err error) bool {
	if de, ok := err.(*DeliveryError); ok {
		return de.Temporary
	}
	return true
}
