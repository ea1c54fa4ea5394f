// Package estimate turns audit findings into a remediation price estimate.
package estimate

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/awa-labs/webauditor/internal/model"
)

// DefaultHourlyRate is the remediation rate in EUR used when config leaves
// it unset.
const DefaultHourlyRate = 65.0

// Estimate is the remediation cost breakdown for an audit.
type Estimate struct {
	AuditID    string                       `json:"audit_id"`
	Currency   string                       `json:"currency"`
	HourlyRate float64                      `json:"hourly_rate"`
	TotalHours float64                      `json:"total_hours"`
	Total      float64                      `json:"total"`
	ByCategory map[model.Category]LineItem  `json:"by_category"`
	Summary    string                       `json:"summary,omitempty"`
}

// LineItem is the per-category portion of an estimate.
type LineItem struct {
	Issues int     `json:"issues"`
	Hours  float64 `json:"hours"`
	Cost   float64 `json:"cost"`
}

// complexityMultipliers scale base hours by how involved a fix is.
var complexityMultipliers = map[model.Complexity]float64{
	model.ComplexitySimple:  1.0,
	model.ComplexityMedium:  1.25,
	model.ComplexityComplex: 1.6,
}

// issueHours returns the multiplier-adjusted hours for one issue.
func issueHours(is model.AuditIssue) float64 {
	mult, ok := complexityMultipliers[is.Complexity]
	if !ok {
		mult = 1.0
	}
	return is.EstimatedHours * mult
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculate produces the deterministic cost breakdown for an audit's issues.
func Calculate(audit *model.Audit, hourlyRate float64) (*Estimate, error) {
	if audit == nil {
		return nil, eris.New("estimate: audit is required")
	}
	if hourlyRate <= 0 {
		hourlyRate = DefaultHourlyRate
	}

	est := &Estimate{
		AuditID:    audit.ID,
		Currency:   "EUR",
		HourlyRate: hourlyRate,
		ByCategory: make(map[model.Category]LineItem),
	}

	for _, is := range audit.Issues {
		hours := issueHours(is)
		item := est.ByCategory[is.Category]
		item.Issues++
		item.Hours = round2(item.Hours + hours)
		item.Cost = round2(item.Hours * hourlyRate)
		est.ByCategory[is.Category] = item
		est.TotalHours = round2(est.TotalHours + hours)
	}
	est.Total = round2(est.TotalHours * hourlyRate)

	return est, nil
}
