package provider

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SignFunc DKIM-signs an assembled message for the given from address.
// A nil SignFunc, or one returning the message unchanged, disables signing.
type SignFunc func(ctx context.Context, from string, message []byte) ([]byte, error)

// SMTPSender submits messages to a configured SMTP relay, DKIM-signing them
// when the sending domain has a verified identity.
type SMTPSender struct {
	addr     string
	username string
	password string
	timeout  time.Duration
	sign     SignFunc
}

func NewSMTPSender(addr, username, password string, timeout time.Duration, sign SignFunc) *SMTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		addr:     addr,
		username: username,
		password: password,
		timeout:  timeout,
		sign:     sign,
	}
}

// Send assembles the RFC 5322 message, signs it and submits it to the relay
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	msgID := fmt.Sprintf("%s@%s", uuid.New().String(), domainOf(msg.From))

	raw := s.assemble(msg, msgID)

	if s.sign != nil {
		signed, err := s.sign(ctx, msg.From, raw)
		if err != nil {
			return nil, &DeliveryError{Temporary: false, Message: fmt.Sprintf("dkim sign failed: %v", err)}
		}
		raw = signed
	}

	if err := s.submit(msg.From, msg.To, raw); err != nil {
		return nil, err
	}

	return &Result{ProviderMsgID: msgID}, nil
}

func (s *SMTPSender) submit(from, to string, raw []byte) error {
	c, err := smtp.DialStartTLS(s.addr, nil)
	if err != nil {
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("relay connect failed: %v", err)}
	}
	defer c.Close()

	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return &DeliveryError{Temporary: true, Message: fmt.Sprintf("relay auth failed: %v", err)}
		}
	}

	if err := c.SendMail(from, []string{to}, bytes.NewReader(raw)); err != nil {
		return classifySMTPError(err)
	}

	return c.Quit()
}

// assemble builds the RFC 5322 message with an HTML body
func (s *SMTPSender) assemble(msg *Message, msgID string) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", msgID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: text/html; charset=UTF-8\r\n")
	for k, v := range msg.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")

	return b.Bytes()
}

// classifySMTPError maps SMTP reply codes onto the delivery error taxonomy:
// 4xx replies are temporary, 5xx permanent, anything else temporary.
func classifySMTPError(err error) error {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		return &DeliveryError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   fmt.Sprintf("relay rejected message: %v", smtpErr),
		}
	}
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf("relay send failed: %v", err)}
}

func domainOf(address string) string {
	if idx := strings.LastIndex(address, "@"); idx >= 0 && idx < len(address)-1 {
		return address[idx+1:]
	}
	return "localhost"
}
