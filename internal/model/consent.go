package model

import "time"

// AuditAction names a compliance-relevant action recorded in the audit log.
type AuditAction string

const (
	ActionView     AuditAction = "view"
	ActionAccept   AuditAction = "accept"
	ActionSign     AuditAction = "sign"
	ActionDownload AuditAction = "download"
	ActionVerify   AuditAction = "verify"
	ActionEnroll   AuditAction = "enroll"
)

// ValidAuditAction reports whether a names a known compliance action.
func ValidAuditAction(a AuditAction) bool {
	switch a {
	case ActionView, ActionAccept, ActionSign, ActionDownload, ActionVerify, ActionEnroll:
		return true
	}
	return false
}

// TermsAcceptance is an immutable compliance record created once at
// enrollment submission and retained as evidence for dispute resolution.
// Hashes are computed server-side from content, never trusted from the
// client as raw claims.
type TermsAcceptance struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id,omitempty"`
	TermsVersion  string    `json:"terms_version"`
	AcceptedAt    time.Time `json:"accepted_at"`
	IPAddress     *string   `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	TermsHash     string    `json:"terms_hash"`
	SignatureHash string    `json:"signature_hash,omitempty"`
	Fingerprint   string    `json:"browser_fingerprint,omitempty"`
}

// AuditLogEntry is an event record for compliance-sensitive actions. Every
// such action produces exactly one entry before the corresponding state
// transition commits.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	Action    AuditAction    `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	LeadID    string         `json:"lead_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
