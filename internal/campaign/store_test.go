package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hireloop/courier/internal/models"
)

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func campaignColumnsList() []string {
	return []string{
		"id", "org_id", "name", "status", "from_address", "reply_to",
		"follow_up_max", "follow_up_interval_hours", "stop_on_reply",
		"total_sent", "total_opened", "total_clicked", "total_replied", "total_bounced",
		"created_at", "updated_at",
	}
}

func campaignRow(status models.CampaignStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(campaignColumnsList()).
		AddRow("c1", "org1", "Q3 backend outreach", status, "talent@acme.test", nil,
			2, 72, true, 10, 4, 2, 1, 0, now, now)
}

func TestCreateDefaults(t *testing.T) {
	s, mock := testStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	c := &models.Campaign{OrgID: "org1", Name: "Outreach", FromAddress: "talent@acme.test"}
	if err := s.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.Status != models.CampaignDraft {
		t.Errorf("Status = %v, want draft", c.Status)
	}
	if c.FollowUpInterval != 72 {
		t.Errorf("FollowUpInterval = %d, want default 72", c.FollowUpInterval)
	}
	if c.ID == "" {
		t.Error("expected generated id")
	}
}

func TestTransitionActivate(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(campaignRow(models.CampaignDraft))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("c1", models.CampaignActive, models.CampaignDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, err := s.Transition(context.Background(), "c1", models.CampaignActive)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if c.Status != models.CampaignActive {
		t.Errorf("Status = %v, want active", c.Status)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(campaignRow(models.CampaignCompleted))

	if _, err := s.Transition(context.Background(), "c1", models.CampaignActive); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionLostRace(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(campaignRow(models.CampaignActive))
	mock.ExpectExec("UPDATE campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.Transition(context.Background(), "c1", models.CampaignPaused); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(sqlmock.NewRows(campaignColumnsList()))

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT c.total_sent").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_sent", "total_opened", "total_clicked", "total_replied", "total_bounced",
			"pending", "failed",
		}).AddRow(100, 40, 12, 5, 2, 30, 1))

	stats, err := s.Stats(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalSent != 100 || stats.Pending != 30 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		from, to models.CampaignStatus
		ok       bool
	}{
		{models.CampaignDraft, models.CampaignActive, true},
		{models.CampaignDraft, models.CampaignPaused, false},
		{models.CampaignActive, models.CampaignPaused, true},
		{models.CampaignActive, models.CampaignCompleted, true},
		{models.CampaignPaused, models.CampaignActive, true},
		{models.CampaignPaused, models.CampaignCompleted, true},
		{models.CampaignCompleted, models.CampaignActive, false},
		{models.CampaignCompleted, models.CampaignPaused, false},
	}
	for _, tt := range tests {
		if got := transitionAllowed(tt.from, tt.to); got != tt.ok {
			t.Errorf("transitionAllowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
