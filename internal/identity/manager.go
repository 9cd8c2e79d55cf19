package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

// DefaultSelector is the DKIM selector used for newly created identities
const DefaultSelector = "courier"

var (
	ErrInvalidDomain  = errors.New("invalid domain name")
	ErrDomainExists   = errors.New("domain identity already exists")
	ErrDomainNotFound = errors.New("domain identity not found")
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// LookupTXT resolves TXT records for a name. Overridable for tests.
type LookupTXT func(ctx context.Context, name string) ([]string, error)

// Manager owns the lifecycle of sending-domain identities
type Manager struct {
	db        *sql.DB
	lookupTXT LookupTXT
	logger    *slog.Logger
}

func NewManager(db *sql.DB, logger *slog.Logger) *Manager {
	var resolver net.Resolver
	return &Manager{
		db:        db,
		lookupTXT: resolver.LookupTXT,
		logger:    logger.With("component", "identity"),
	}
}

const identityColumns = `id, org_id, domain, selector, private_key_pem, status, last_checked_at, created_at, updated_at`

// Create generates a DKIM key pair for the domain and stores the identity
// in pending state
func (m *Manager) Create(ctx context.Context, orgID, domain string) (*models.DomainIdentity, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	kp, err := GenerateKey(domain, DefaultSelector)
	if err != nil {
		return nil, err
	}
	pemData, err := kp.EncodePEM()
	if err != nil {
		return nil, err
	}

	identity := &models.DomainIdentity{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		Domain:        domain,
		Selector:      DefaultSelector,
		PrivateKeyPEM: pemData,
		Status:        models.DomainPending,
	}

	err = m.db.QueryRowContext(ctx, `
		INSERT INTO domain_identities (id, org_id, domain, selector, private_key_pem, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (domain) DO NOTHING
		RETURNING created_at, updated_at`,
		identity.ID, identity.OrgID, identity.Domain, identity.Selector, identity.PrivateKeyPEM,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDomainExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create domain identity: %w", err)
	}

	m.logger.Info("domain identity created", "domain", domain, "selector", identity.Selector)
	return identity, nil
}

// Get returns the identity for a domain
func (m *Manager) Get(ctx context.Context, domain string) (*models.DomainIdentity, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM domain_identities WHERE domain = $1`,
		strings.ToLower(domain))
	identity, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, ErrDomainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain identity: %w", err)
	}
	return identity, nil
}

// List returns all identities, newest first
func (m *Manager) List(ctx context.Context) ([]*models.DomainIdentity, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM domain_identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.DomainIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// Records returns the DNS records the domain owner must publish
func (m *Manager) Records(identity *models.DomainIdentity) ([]models.DNSRecord, error) {
	kp, err := ParsePEM(identity.PrivateKeyPEM, identity.Domain, identity.Selector)
	if err != nil {
		return nil, err
	}
	return []models.DNSRecord{
		{Type: "TXT", Name: kp.DNSName(), Value: kp.DNSRecord()},
		{Type: "TXT", Name: identity.Domain, Value: "v=spf1 include:_spf." + identity.Domain + " ~all"},
	}, nil
}

// Verify checks the published DKIM record against the stored key and
// updates the identity's verification status
func (m *Manager) Verify(ctx context.Context, domain string) (*models.DomainIdentity, error) {
	identity, err := m.Get(ctx, domain)
	if err != nil {
		return nil, err
	}

	kp, err := ParsePEM(identity.PrivateKeyPEM, identity.Domain, identity.Selector)
	if err != nil {
		return nil, err
	}

	status := models.DomainFailed
	records, lookupErr := m.lookupTXT(ctx, kp.DNSName())
	if lookupErr == nil && containsDKIMKey(records, kp.DNSRecord()) {
		status = models.DomainVerified
	}

	err = m.db.QueryRowContext(ctx, `
		UPDATE domain_identities
		SET status = $2, last_checked_at = now(), updated_at = now()
		WHERE domain = $1
		RETURNING last_checked_at, updated_at`,
		identity.Domain, status,
	).Scan(&identity.LastCheckedAt, &identity.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update verification status: %w", err)
	}

	identity.Status = status
	m.logger.Info("domain verification checked", "domain", domain, "status", status)
	return identity, nil
}

// IsVerified reports whether the from domain of an address has a verified
// identity
func (m *Manager) IsVerified(ctx context.Context, address string) (bool, error) {
	domain := domainOfAddress(address)
	if domain == "" {
		return false, nil
	}

	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM domain_identities
		WHERE domain = $1 AND status = 'verified'`,
		domain,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check domain verification: %w", err)
	}
	return n > 0, nil
}

// Sign DKIM-signs a raw message for the given from address. Messages from
// domains without a verified identity pass through unsigned.
func (m *Manager) Sign(ctx context.Context, from string, message []byte) ([]byte, error) {
	domain := domainOfAddress(from)
	if domain == "" {
		return message, nil
	}

	identity, err := m.Get(ctx, domain)
	if err == ErrDomainNotFound {
		return message, nil
	}
	if err != nil {
		return nil, err
	}
	if identity.Status != models.DomainVerified {
		return message, nil
	}

	kp, err := ParsePEM(identity.PrivateKeyPEM, identity.Domain, identity.Selector)
	if err != nil {
		return nil, err
	}
	return kp.Sign(message)
}

// Delete removes a domain identity
func (m *Manager) Delete(ctx context.Context, domain string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM domain_identities WHERE domain = $1`, strings.ToLower(domain))
	if err != nil {
		return fmt.Errorf("failed to delete domain identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDomainNotFound
	}
	return nil
}

// ValidateDomain checks if a domain name is well-formed
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// containsDKIMKey matches the published TXT records against the expected
// record, tolerating whitespace differences from record splitting
func containsDKIMKey(records []string, expected string) bool {
	normalize := func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "\"", "")
	}
	want := normalize(expected)
	for _, r := range records {
		if normalize(r) == want {
			return true
		}
	}
	return false
}

func domainOfAddress(address string) string {
	if idx := strings.LastIndex(address, "@"); idx >= 0 && idx < len(address)-1 {
		return strings.ToLower(address[idx+1:])
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.DomainIdentity, error) {
	identity := &models.DomainIdentity{}
	var lastChecked sql.NullTime
	err := row.Scan(
		&identity.ID, &identity.OrgID, &identity.Domain, &identity.Selector,
		&identity.PrivateKeyPEM, &identity.Status, &lastChecked,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		identity.LastCheckedAt = &lastChecked.Time
	}
	return identity, nil
}
