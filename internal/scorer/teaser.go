// Package scorer aggregates per-category audit results into the teaser
// shown before enrollment.
package scorer

import (
	"math"
	"sort"

	"github.com/awa-labs/webauditor/internal/model"
)

// Teaser is the abridged result set shown at the teaser-results step.
// Scores are visible; full issue details stay behind the paywall.
type Teaser struct {
	AuditID      string                  `json:"audit_id"`
	URL          string                  `json:"url"`
	OverallScore int                     `json:"overall_score"`
	Scores       map[model.Category]int  `json:"scores"`
	IssueCounts  map[model.Severity]int  `json:"issue_counts"`
	TotalIssues  int                     `json:"total_issues"`
	TopIssues    []model.AuditIssue      `json:"top_issues,omitempty"`
}

// maxTeaserIssues caps how many issue titles the teaser reveals.
const maxTeaserIssues = 3

// Overall returns the rounded mean of the present category scores.
// No categories means no score.
func Overall(scores map[model.Category]int) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}

// SeverityCounts tallies issues by severity.
func SeverityCounts(issues []model.AuditIssue) map[model.Severity]int {
	counts := make(map[model.Severity]int)
	for _, is := range issues {
		counts[is.Severity]++
	}
	return counts
}

// severityRank orders severities from most to least urgent.
func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 0
	case model.SeverityHigh:
		return 1
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 3
	default:
		return 4
	}
}

// BuildTeaser produces the teaser payload for a completed audit. Top issues
// are the most severe findings, title-only.
func BuildTeaser(audit *model.Audit) *Teaser {
	sorted := make([]model.AuditIssue, len(audit.Issues))
	copy(sorted, audit.Issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Severity) < severityRank(sorted[j].Severity)
	})

	top := make([]model.AuditIssue, 0, maxTeaserIssues)
	for _, is := range sorted {
		if len(top) == maxTeaserIssues {
			break
		}
		// Title and severity only; details are part of the paid report.
		top = append(top, model.AuditIssue{
			Category: is.Category,
			Severity: is.Severity,
			Title:    is.Title,
		})
	}

	return &Teaser{
		AuditID:      audit.ID,
		URL:          audit.URL,
		OverallScore: Overall(audit.Scores),
		Scores:       audit.Scores,
		IssueCounts:  SeverityCounts(audit.Issues),
		TotalIssues:  len(audit.Issues),
		TopIssues:    top,
	}
}
