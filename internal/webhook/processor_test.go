package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hireloop/courier/internal/models"
)

type fakeSends struct {
	sends    map[string]*models.CampaignSend
	sent     []string
	bounced  []string
	replied  []string
}

func newFakeSends() *fakeSends {
	return &fakeSends{sends: make(map[string]*models.CampaignSend)}
}

func (f *fakeSends) GetByProviderMsgID(ctx context.Context, providerMsgID string) (*models.CampaignSend, error) {
	return f.sends[providerMsgID], nil
}

func (f *fakeSends) MarkSent(ctx context.Context, sendID string) (bool, error) {
	f.sent = append(f.sent, sendID)
	return true, nil
}

func (f *fakeSends) MarkBounced(ctx context.Context, sendID string) (bool, error) {
	f.bounced = append(f.bounced, sendID)
	return true, nil
}

func (f *fakeSends) MarkReplied(ctx context.Context, sendID string) (bool, error) {
	f.replied = append(f.replied, sendID)
	return true, nil
}

type suppressedEntry struct {
	address, reason string
}

type fakeSuppressor struct {
	added []suppressedEntry
}

func (f *fakeSuppressor) Add(ctx context.Context, address, reason string, expiresAt *time.Time) error {
	f.added = append(f.added, suppressedEntry{address, reason})
	return nil
}

func testProcessor(t *testing.T) (*Processor, sqlmock.Sqlmock, *fakeSends, *fakeSuppressor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sends := newFakeSends()
	sends.sends["prov-1"] = &models.CampaignSend{
		ID: "s1", CampaignID: "c1", Recipient: "jane@example.com", Status: models.SendSent,
	}
	suppressor := &fakeSuppressor{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(db, Config{MaxAttempts: 3, RetryBaseDelay: time.Minute, RetryMaxDelay: time.Hour})
	return NewProcessor(store, sends, suppressor, logger), mock, sends, suppressor
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"e1","type":"bounce","message_id":"prov-1","recipient":"jane@example.com"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Type != EventBounce || ev.ProviderMsgID != "prov-1" {
		t.Errorf("ParseEvent() = %+v", ev)
	}

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"bounce","message_id":"prov-1"}`),
		[]byte(`{"id":"e1","message_id":"prov-1"}`),
		[]byte(`{"id":"e1","type":"mystery","message_id":"prov-1"}`),
		[]byte(`{"id":"e1","type":"bounce"}`),
	}
	for _, payload := range bad {
		if _, err := ParseEvent(payload); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("ParseEvent(%s) error = %v, want ErrInvalidEvent", payload, err)
		}
	}
}

func TestApplyBounceSuppressesRecipient(t *testing.T) {
	p, _, sends, suppressor := testProcessor(t)

	ev := &Event{ID: "e1", Type: EventBounce, ProviderMsgID: "prov-1", Recipient: "jane@example.com"}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(sends.bounced) != 1 || sends.bounced[0] != "s1" {
		t.Errorf("bounced = %v, want [s1]", sends.bounced)
	}
	if len(suppressor.added) != 1 || suppressor.added[0].reason != models.SuppressionBounced {
		t.Errorf("suppressions = %+v, want bounced entry", suppressor.added)
	}
}

func TestApplyComplaintSuppressesWithoutBounce(t *testing.T) {
	p, _, sends, suppressor := testProcessor(t)

	ev := &Event{ID: "e1", Type: EventComplaint, ProviderMsgID: "prov-1"}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(sends.bounced) != 0 {
		t.Error("complaint must not bounce the send")
	}
	// Recipient falls back to the send's recipient when absent from the event
	if len(suppressor.added) != 1 || suppressor.added[0].address != "jane@example.com" {
		t.Errorf("suppressions = %+v", suppressor.added)
	}
	if suppressor.added[0].reason != models.SuppressionComplained {
		t.Errorf("reason = %q, want complained", suppressor.added[0].reason)
	}
}

func TestApplyReply(t *testing.T) {
	p, _, sends, suppressor := testProcessor(t)

	ev := &Event{ID: "e1", Type: EventReply, ProviderMsgID: "prov-1"}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(sends.replied) != 1 {
		t.Errorf("replied = %v, want one send", sends.replied)
	}
	if len(suppressor.added) != 0 {
		t.Error("reply must not suppress the recipient")
	}
}

func TestApplyDelivered(t *testing.T) {
	p, _, sends, _ := testProcessor(t)

	ev := &Event{ID: "e1", Type: EventDelivered, ProviderMsgID: "prov-1"}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(sends.sent) != 1 {
		t.Errorf("sent = %v, want one send", sends.sent)
	}
}

func TestApplyUnknownMessageID(t *testing.T) {
	p, _, _, _ := testProcessor(t)

	ev := &Event{ID: "e1", Type: EventBounce, ProviderMsgID: "unknown"}
	if err := p.Apply(context.Background(), ev); err == nil {
		t.Fatal("Apply() expected error for unknown provider message id")
	}
}

func TestIngestProcessesNewEvent(t *testing.T) {
	p, mock, sends, _ := testProcessor(t)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := []byte(`{"id":"e1","type":"reply","message_id":"prov-1"}`)
	if err := p.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(sends.replied) != 1 {
		t.Error("expected event applied on ingest")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngestDuplicateEventIsNoOp(t *testing.T) {
	p, mock, sends, _ := testProcessor(t)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	payload := []byte(`{"id":"e1","type":"reply","message_id":"prov-1"}`)
	if err := p.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(sends.replied) != 0 {
		t.Error("duplicate event must not be applied again")
	}
}

func TestIngestDefersFailedProcessing(t *testing.T) {
	p, mock, _, _ := testProcessor(t)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "status"}).AddRow(1, "retrying"))

	// Unknown provider message id: apply fails, record stays for retry
	payload := []byte(`{"id":"e1","type":"reply","message_id":"unknown"}`)
	if err := p.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest() error = %v, deferral must not surface", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	p, _, _, _ := testProcessor(t)

	if err := p.Ingest(context.Background(), []byte(`{}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Ingest() error = %v, want ErrInvalidEvent", err)
	}
}

func TestProcessRetriesAppliesClaimedEvents(t *testing.T) {
	p, mock, sends, _ := testProcessor(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE webhook_events").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "payload", "status", "attempts", "next_retry_at", "last_error", "created_at", "updated_at",
		}).AddRow("e1", "reply", []byte(`{"id":"e1","type":"reply","message_id":"prov-1"}`),
			"retrying", 1, now, "no send", now, now))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary, err := p.ProcessRetries(context.Background(), 20)
	if err != nil {
		t.Fatalf("ProcessRetries() error = %v", err)
	}
	if summary.Claimed != 1 || summary.Processed != 1 {
		t.Errorf("summary = %+v, want Claimed=1 Processed=1", summary)
	}
	if len(sends.replied) != 1 {
		t.Error("expected claimed event applied")
	}
}

func TestProcessRetriesFailureGoesBackToRetrying(t *testing.T) {
	p, mock, _, _ := testProcessor(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "payload", "status", "attempts", "next_retry_at", "last_error", "created_at", "updated_at",
		}).AddRow("e1", "reply", []byte(`{"id":"e1","type":"reply","message_id":"unknown"}`),
			"retrying", 1, now, "no send", now, now))
	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "status"}).AddRow(2, "retrying"))

	summary, err := p.ProcessRetries(context.Background(), 20)
	if err != nil {
		t.Fatalf("ProcessRetries() error = %v", err)
	}
	if summary.Retrying != 1 || summary.Processed != 0 {
		t.Errorf("summary = %+v, want Retrying=1", summary)
	}
}

func TestProcessRetriesTerminalFailure(t *testing.T) {
	p, mock, _, _ := testProcessor(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "payload", "status", "attempts", "next_retry_at", "last_error", "created_at", "updated_at",
		}).AddRow("e1", "reply", []byte(`{"id":"e1","type":"reply","message_id":"unknown"}`),
			"retrying", 2, now, "no send", now, now))
	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "status"}).AddRow(3, "failed"))

	summary, err := p.ProcessRetries(context.Background(), 20)
	if err != nil {
		t.Fatalf("ProcessRetries() error = %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want Failed=1", summary)
	}
}

func TestStoreBackoff(t *testing.T) {
	store := NewStore(nil, Config{MaxAttempts: 5, RetryBaseDelay: time.Minute, RetryMaxDelay: 10 * time.Minute})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{9, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := store.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
