package identity

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

func testManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(db, logger), mock
}

func identityRow(t *testing.T, domain string, status models.DomainStatus) (*sqlmock.Rows, *KeyPair) {
	t.Helper()
	kp, err := GenerateKey(domain, DefaultSelector)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	pemData, err := kp.EncodePEM()
	if err != nil {
		t.Fatalf("EncodePEM() error = %v", err)
	}
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "org_id", "domain", "selector", "private_key_pem", "status",
		"last_checked_at", "created_at", "updated_at",
	}).AddRow("d1", "org1", domain, DefaultSelector, pemData, status, nil, now, now)
	return rows, kp
}

func TestValidateDomain(t *testing.T) {
	valid := []string{"acme.test", "mail.acme-corp.io", "a.b.c.example.com"}
	for _, d := range valid {
		if err := ValidateDomain(d); err != nil {
			t.Errorf("ValidateDomain(%q) = %v, want nil", d, err)
		}
	}

	invalid := []string{"", "nodot", "-bad.test", "bad-.test", "under_score.test", "spaces here.test"}
	for _, d := range invalid {
		if err := ValidateDomain(d); err == nil {
			t.Errorf("ValidateDomain(%q) = nil, want error", d)
		}
	}
}

func TestCreateRejectsInvalidDomain(t *testing.T) {
	m, _ := testManager(t)
	if _, err := m.Create(context.Background(), "org1", "not a domain"); !errors.Is(err, ErrInvalidDomain) {
		t.Errorf("Create() error = %v, want ErrInvalidDomain", err)
	}
}

func TestCreateStoresPendingIdentity(t *testing.T) {
	m, mock := testManager(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO domain_identities").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	identity, err := m.Create(context.Background(), "org1", "Acme.Test ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if identity.Domain != "acme.test" {
		t.Errorf("Domain = %q, want normalized acme.test", identity.Domain)
	}
	if identity.Status != models.DomainPending {
		t.Errorf("Status = %v, want pending", identity.Status)
	}
	if identity.PrivateKeyPEM == "" {
		t.Error("expected stored private key")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateDuplicateDomain(t *testing.T) {
	m, mock := testManager(t)

	mock.ExpectQuery("INSERT INTO domain_identities").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	if _, err := m.Create(context.Background(), "org1", "acme.test"); !errors.Is(err, ErrDomainExists) {
		t.Errorf("Create() error = %v, want ErrDomainExists", err)
	}
}

func TestVerifySuccess(t *testing.T) {
	m, mock := testManager(t)
	rows, kp := identityRow(t, "acme.test", models.DomainPending)
	now := time.Now()

	m.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		if name != "courier._domainkey.acme.test" {
			t.Errorf("lookup name = %q", name)
		}
		return []string{"v=spf1 ~all", kp.DNSRecord()}, nil
	}

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(rows)
	mock.ExpectQuery("UPDATE domain_identities").
		WithArgs("acme.test", models.DomainVerified).
		WillReturnRows(sqlmock.NewRows([]string{"last_checked_at", "updated_at"}).AddRow(now, now))

	identity, err := m.Verify(context.Background(), "acme.test")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.Status != models.DomainVerified {
		t.Errorf("Status = %v, want verified", identity.Status)
	}
	if identity.LastCheckedAt == nil {
		t.Error("expected LastCheckedAt to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestVerifyWrongKeyFails(t *testing.T) {
	m, mock := testManager(t)
	rows, _ := identityRow(t, "acme.test", models.DomainPending)
	other, _ := GenerateKey("acme.test", DefaultSelector)
	now := time.Now()

	m.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		return []string{other.DNSRecord()}, nil
	}

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(rows)
	mock.ExpectQuery("UPDATE domain_identities").
		WithArgs("acme.test", models.DomainFailed).
		WillReturnRows(sqlmock.NewRows([]string{"last_checked_at", "updated_at"}).AddRow(now, now))

	identity, err := m.Verify(context.Background(), "acme.test")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.Status != models.DomainFailed {
		t.Errorf("Status = %v, want failed", identity.Status)
	}
}

func TestVerifyLookupErrorFails(t *testing.T) {
	m, mock := testManager(t)
	rows, _ := identityRow(t, "acme.test", models.DomainVerified)
	now := time.Now()

	m.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		return nil, errors.New("NXDOMAIN")
	}

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(rows)
	mock.ExpectQuery("UPDATE domain_identities").
		WithArgs("acme.test", models.DomainFailed).
		WillReturnRows(sqlmock.NewRows([]string{"last_checked_at", "updated_at"}).AddRow(now, now))

	identity, err := m.Verify(context.Background(), "acme.test")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.Status != models.DomainFailed {
		t.Errorf("Status = %v, want failed after lookup error", identity.Status)
	}
}

func TestVerifyUnknownDomain(t *testing.T) {
	m, mock := testManager(t)

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := m.Verify(context.Background(), "missing.test"); !errors.Is(err, ErrDomainNotFound) {
		t.Errorf("Verify() error = %v, want ErrDomainNotFound", err)
	}
}

func TestIsVerified(t *testing.T) {
	m, mock := testManager(t)

	mock.ExpectQuery("SELECT COUNT(.+) FROM domain_identities").
		WithArgs("acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := m.IsVerified(context.Background(), "talent@acme.test")
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if !ok {
		t.Error("expected verified")
	}

	if ok, _ := m.IsVerified(context.Background(), "no-at-sign"); ok {
		t.Error("malformed address should never be verified")
	}
}

func TestSignPassthroughForUnknownDomain(t *testing.T) {
	m, mock := testManager(t)

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	msg := []byte("From: a@unknown.test\r\n\r\nbody\r\n")
	signed, err := m.Sign(context.Background(), "a@unknown.test", msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if string(signed) != string(msg) {
		t.Error("unknown domain should pass message through unchanged")
	}
}

func TestSignVerifiedDomain(t *testing.T) {
	m, mock := testManager(t)
	rows, _ := identityRow(t, "acme.test", models.DomainVerified)

	mock.ExpectQuery("SELECT (.+) FROM domain_identities WHERE domain").
		WillReturnRows(rows)

	msg := []byte("From: talent@acme.test\r\nTo: jane@example.com\r\nSubject: Hi\r\n\r\nbody\r\n")
	signed, err := m.Sign(context.Background(), "talent@acme.test", msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(signed) <= len(msg) {
		t.Error("expected DKIM signature to be prepended")
	}
}

func TestRecords(t *testing.T) {
	m, _ := testManager(t)
	kp, _ := GenerateKey("acme.test", DefaultSelector)
	pemData, _ := kp.EncodePEM()

	records, err := m.Records(&models.DomainIdentity{
		Domain: "acme.test", Selector: DefaultSelector, PrivateKeyPEM: pemData,
	})
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Name != "courier._domainkey.acme.test" {
		t.Errorf("DKIM record name = %q", records[0].Name)
	}
	if records[1].Value[:7] != "v=spf1 " {
		t.Errorf("SPF record value = %q", records[1].Value)
	}
}
