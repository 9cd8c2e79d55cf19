package models

import "time"

// DomainStatus represents the verification state of a sending domain
type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainVerified DomainStatus = "verified"
	DomainFailed   DomainStatus = "failed"
)

// DomainIdentity is a sending domain with its DKIM key and verification
// state. Only verified domains may be used as the from domain.
type DomainIdentity struct {
	ID            string       `json:"id"`
	OrgID         string       `json:"org_id"`
	Domain        string       `json:"domain"`
	Selector      string       `json:"selector"`
	PrivateKeyPEM string       `json:"-"`
	Status        DomainStatus `json:"status"`
	LastCheckedAt *time.Time   `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// DNSRecord describes a DNS record the domain owner must publish
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}
