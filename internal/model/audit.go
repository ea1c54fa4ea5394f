package model

import "time"

// AuditStatus represents the current state of a website audit.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// Terminal reports whether the status is one the poller stops on.
func (s AuditStatus) Terminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// Category identifies one auditable aspect of a website.
type Category string

const (
	CategoryPerformance   Category = "performance"
	CategorySEO           Category = "seo"
	CategorySecurity      Category = "security"
	CategoryGDPR          Category = "gdpr"
	CategoryAccessibility Category = "accessibility"
	CategoryMobileUX      Category = "mobile-ux"
)

// AllCategories returns the full category set in display order.
func AllCategories() []Category {
	return []Category{
		CategoryPerformance,
		CategorySEO,
		CategorySecurity,
		CategoryGDPR,
		CategoryAccessibility,
		CategoryMobileUX,
	}
}

// ValidCategory reports whether c names a known audit category.
func ValidCategory(c Category) bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Severity ranks how urgent an audit issue is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Complexity estimates how involved a fix is, for pricing.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Audit represents a single audit run against a target URL.
type Audit struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id,omitempty"`
	URL          string           `json:"url"`
	Status       AuditStatus      `json:"status"`
	Categories   []Category       `json:"categories"`
	Scores       map[Category]int `json:"scores,omitempty"`
	OverallScore int              `json:"overall_score"`
	Issues       []AuditIssue     `json:"issues,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// AuditIssue is a single finding produced by a category check.
type AuditIssue struct {
	ID             string     `json:"id,omitempty"`
	AuditID        string     `json:"audit_id,omitempty"`
	Category       Category   `json:"category"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Recommendation string     `json:"recommendation,omitempty"`
	EstimatedHours float64    `json:"estimated_hours"`
	Complexity     Complexity `json:"complexity,omitempty"`
}
