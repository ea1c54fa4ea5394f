// Package store persists audits, leads, and compliance records.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/awa-labs/webauditor/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicateLead is returned when a lead already exists for the same
// email and audit.
var ErrDuplicateLead = eris.New("store: lead already enrolled for this audit")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Status model.LeadStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// LeadStats summarizes the lead pipeline for the back office.
type LeadStats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByPackage      map[string]int `json:"by_package"`
	ConversionRate float64        `json:"conversion_rate"`
}

// Store defines the persistence interface for the audit funnel.
type Store interface {
	// Audits
	CreateAudit(ctx context.Context, url string, categories []model.Category) (*model.Audit, error)
	UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error
	CompleteAudit(ctx context.Context, audit *model.Audit) error
	FailAudit(ctx context.Context, auditID, reason string) error
	GetAudit(ctx context.Context, auditID string) (*model.Audit, error)

	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	GetLeadByReference(ctx context.Context, reference string) (*model.Lead, error)
	UpdateLeadPayment(ctx context.Context, leadID string, status model.PaymentStatus, sessionID, invoice string) error
	CompleteSocialShare(ctx context.Context, leadID, platform string) error
	VerifyLeadEmail(ctx context.Context, token string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error)
	LeadStats(ctx context.Context) (*LeadStats, error)

	// Compliance
	SaveTermsAcceptance(ctx context.Context, acc model.TermsAcceptance) error
	AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
