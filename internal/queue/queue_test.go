package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hireloop/courier/internal/models"
)

func testQueue(t *testing.T) (*DeliveryQueue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q := New(db, Config{
		MaxAttempts:     3,
		RetryBaseDelay:  5 * time.Minute,
		RetryMaxDelay:   time.Hour,
		StaleClaimAfter: 10 * time.Minute,
	})
	return q, mock
}

func itemColumns() []string {
	return []string{
		"id", "campaign_id", "recipient", "template_id", "follow_up_number", "render_context",
		"scheduled_for", "status", "attempts", "last_error", "skip_reason", "provider_msg_id",
		"claimed_at", "created_at", "updated_at",
	}
}

func TestBackoff(t *testing.T) {
	q, _ := testQueue(t)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 40 * time.Minute},
		{5, time.Hour},  // capped
		{10, time.Hour}, // still capped
	}

	for _, tt := range tests {
		if got := q.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestEnqueue(t *testing.T) {
	q, mock := testQueue(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	item, err := q.Enqueue(context.Background(), "c1", "jane@example.com", "t1", 0, map[string]any{"first_name": "Jane"}, now)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if item.Status != models.QueuePending {
		t.Errorf("Status = %v, want pending", item.Status)
	}
	if item.ID == "" {
		t.Error("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimDueBatch(t *testing.T) {
	q, mock := testQueue(t)
	now := time.Now()

	rows := sqlmock.NewRows(itemColumns()).
		AddRow("i1", "c1", "a@example.com", "t1", 0, []byte(`{"first_name":"Ada"}`), now.Add(-time.Second), "sending", 0, nil, nil, nil, now, now, now).
		AddRow("i2", "c1", "b@example.com", "t1", 0, []byte(`{}`), now.Add(-time.Minute), "sending", 1, "timeout", nil, nil, now, now, now)

	mock.ExpectQuery("UPDATE queue_items").WithArgs(10).WillReturnRows(rows)

	items, err := q.ClaimDueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDueBatch() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Status != models.QueueSending {
		t.Errorf("claimed item status = %v, want sending", items[0].Status)
	}
	if items[0].Context["first_name"] != "Ada" {
		t.Errorf("Context = %v, want first_name Ada", items[0].Context)
	}
	if items[1].LastError != "timeout" {
		t.Errorf("LastError = %q, want timeout", items[1].LastError)
	}
}

func TestClaimDueBatchEmpty(t *testing.T) {
	q, mock := testQueue(t)

	mock.ExpectQuery("UPDATE queue_items").WithArgs(10).
		WillReturnRows(sqlmock.NewRows(itemColumns()))

	items, err := q.ClaimDueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDueBatch() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestRecordOutcomeSuccess(t *testing.T) {
	q, mock := testQueue(t)

	mock.ExpectExec("UPDATE queue_items").
		WithArgs("i1", "prov-123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	item := &models.QueueItem{ID: "i1", Status: models.QueueSending}
	if err := q.RecordOutcome(context.Background(), item, Outcome{ProviderMsgID: "prov-123"}); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if item.Status != models.QueueSent {
		t.Errorf("Status = %v, want sent", item.Status)
	}
	if item.ProviderMsgID != "prov-123" {
		t.Errorf("ProviderMsgID = %q, want prov-123", item.ProviderMsgID)
	}
}

func TestRecordOutcomeFailureRequeues(t *testing.T) {
	q, mock := testQueue(t)
	future := time.Now().Add(10 * time.Minute)

	mock.ExpectQuery("UPDATE queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "status", "scheduled_for"}).
			AddRow(2, "pending", future))

	item := &models.QueueItem{ID: "i1", Status: models.QueueSending, Attempts: 1}
	err := q.RecordOutcome(context.Background(), item, Outcome{Err: errors.New("provider 503")})
	if err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if item.Status != models.QueuePending {
		t.Errorf("Status = %v, want pending", item.Status)
	}
	if item.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", item.Attempts)
	}
	if !item.ScheduledFor.After(time.Now()) {
		t.Error("expected scheduled_for pushed into the future")
	}
}

func TestRecordOutcomeFailureTerminal(t *testing.T) {
	q, mock := testQueue(t)
	sched := time.Now().Add(-time.Minute)

	mock.ExpectQuery("UPDATE queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "status", "scheduled_for"}).
			AddRow(3, "failed", sched))

	item := &models.QueueItem{ID: "i1", Status: models.QueueSending, Attempts: 2}
	err := q.RecordOutcome(context.Background(), item, Outcome{Err: errors.New("provider 503")})
	if err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if item.Status != models.QueueFailed {
		t.Errorf("Status = %v, want failed", item.Status)
	}
	if item.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", item.Attempts)
	}
}

func TestMarkSkipped(t *testing.T) {
	q, mock := testQueue(t)

	mock.ExpectExec("UPDATE queue_items").
		WithArgs("i1", models.SkipSuppressed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := q.MarkSkipped(context.Background(), "i1", models.SkipSuppressed); err != nil {
		t.Fatalf("MarkSkipped() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	q, mock := testQueue(t)

	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := q.ReclaimStale(context.Background())
	if err != nil {
		t.Fatalf("ReclaimStale() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ReclaimStale() = %d, want 2", n)
	}
}

func TestStats(t *testing.T) {
	q, mock := testQueue(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"p", "s", "sent", "f", "sk", "due"}).
			AddRow(5, 1, 100, 2, 3, 4))

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 5 || stats.Due != 4 {
		t.Errorf("Stats() = %+v, want Pending=5 Due=4", stats)
	}
}
