package model

import (
	"net/mail"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
)

// LeadStatus tracks a lead through the capture funnel.
type LeadStatus string

const (
	LeadStatusPending   LeadStatus = "pending"
	LeadStatusVerified  LeadStatus = "verified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusChurned   LeadStatus = "churned"
)

// PaymentStatus tracks the billing outcome for a lead.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// supportedLanguages are the UI locales the funnel ships string tables for.
var supportedLanguages = []language.Tag{
	language.English,
	language.Romanian,
	language.German,
	language.French,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// Lead is a prospective customer's in-progress or completed funnel attempt.
type Lead struct {
	ID                 string        `json:"id"`
	Reference          string        `json:"reference"`
	Email              string        `json:"email"`
	Name               string        `json:"name"`
	Language           string        `json:"language"`
	AuditID            string        `json:"audit_id"`
	URL                string        `json:"url,omitempty"`
	PackageID          string        `json:"package_id"`
	SelectedCategories []Category    `json:"selected_categories"`
	SignatureData      string        `json:"signature_data,omitempty"`
	NewsletterConsent  bool          `json:"newsletter_consent"`
	Fingerprint        string        `json:"fingerprint,omitempty"`
	IPAddress          *string       `json:"ip_address,omitempty"`
	UserAgent          string        `json:"user_agent,omitempty"`
	TermsHash          string        `json:"terms_hash,omitempty"`
	TermsAcceptedAt    time.Time     `json:"terms_accepted_at"`
	VerificationToken  string        `json:"-"`
	EmailVerified      bool          `json:"email_verified"`
	Status             LeadStatus    `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	CheckoutSessionID  string        `json:"checkout_session_id,omitempty"`
	InvoiceNumber      string        `json:"invoice_number,omitempty"`
	ShareCompleted     bool          `json:"share_completed"`
	SharePlatform      string        `json:"share_platform,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	ConvertedAt        *time.Time    `json:"converted_at,omitempty"`
}

// EnrollmentForm holds the raw inputs from the enrollment step, before any
// enrichment. Required fields are validated synchronously via Validate;
// consent flags gate submission entirely.
type EnrollmentForm struct {
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	Language          string     `json:"language"`
	AuditID           string     `json:"audit_id"`
	PackageID         string     `json:"package_id"`
	SelectedAudits    []Category `json:"selected_audits"`
	SignatureData     string     `json:"signature_data,omitempty"`
	NewsletterConsent bool       `json:"newsletter_consent"`
	TermsAccepted     bool       `json:"terms_accepted"`
	PrivacyAccepted   bool       `json:"privacy_accepted"`
}

// Validate checks the required enrollment fields. A lead must never be
// created without both consent flags set at the moment of submission.
func (f *EnrollmentForm) Validate() error {
	if !f.TermsAccepted || !f.PrivacyAccepted {
		return eris.New("enrollment: terms and privacy policy must both be accepted")
	}
	if err := ValidateEmail(f.Email); err != nil {
		return err
	}
	if len(strings.TrimSpace(f.Name)) < 2 {
		return eris.New("enrollment: name must be at least 2 characters")
	}
	if f.AuditID == "" {
		return eris.New("enrollment: audit id is required")
	}
	if f.PackageID == "" {
		return eris.New("enrollment: package id is required")
	}
	if _, err := NormalizeLanguage(f.Language); err != nil {
		return err
	}
	return nil
}

// ValidateEmail checks that the address is syntactically valid and non-empty.
func ValidateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return eris.New("enrollment: email is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return eris.Errorf("enrollment: invalid email address %q", addr)
	}
	return nil
}

// NormalizeLanguage resolves a BCP 47 code (or bare language like "en") to
// the closest supported locale. Empty input defaults to English.
func NormalizeLanguage(code string) (string, error) {
	if code == "" {
		return "en", nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", eris.Wrapf(err, "enrollment: parse language %q", code)
	}
	_, idx, conf := languageMatcher.Match(tag)
	if conf == language.No {
		return "", eris.Errorf("enrollment: unsupported language %q", code)
	}
	base, _ := supportedLanguages[idx].Base()
	return base.String(), nil
}
