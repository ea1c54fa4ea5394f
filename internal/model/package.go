package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PDFType describes which report rendering a package unlocks.
type PDFType string

const (
	PDFTypeNone         PDFType = "none"
	PDFTypeBasic        PDFType = "basic"
	PDFTypeProfessional PDFType = "professional"
)

// Package is a priced tier controlling how much of the audit is unlocked.
type Package struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Price          float64  `json:"price" yaml:"price"`
	Currency       string   `json:"currency" yaml:"currency"`
	AuditsIncluded int      `json:"audits_included" yaml:"audits_included"`
	TotalAudits    int      `json:"total_audits" yaml:"total_audits"`
	Features       []string `json:"features" yaml:"features"`
	PDFType        PDFType  `json:"pdf_type" yaml:"pdf_type"`
	Popular        bool     `json:"popular" yaml:"popular"`
	RequiresShare  bool     `json:"requires_share" yaml:"requires_share"`
	Active         bool     `json:"is_active" yaml:"is_active"`
	SortOrder      int      `json:"sort_order" yaml:"sort_order"`
}

// IsFull reports whether the package unlocks every audit category and
// therefore bypasses manual category selection.
func (p *Package) IsFull() bool {
	return p.AuditsIncluded >= p.TotalAudits
}

// Validate enforces the catalog cross-field constraints. The free tier is
// monetized via virality, not cash, so price 0 requires a share.
func (p *Package) Validate() error {
	if p.ID == "" {
		return eris.New("package: id is required")
	}
	if p.Price < 0 {
		return eris.Errorf("package %s: price must be >= 0", p.ID)
	}
	if p.Price == 0 && !p.RequiresShare {
		return eris.Errorf("package %s: zero-price tier must require a social share", p.ID)
	}
	if p.AuditsIncluded < 1 || p.AuditsIncluded > p.TotalAudits {
		return eris.Errorf("package %s: audits_included must be 1-%d", p.ID, p.TotalAudits)
	}
	switch p.PDFType {
	case PDFTypeNone, PDFTypeBasic, PDFTypeProfessional:
	default:
		return eris.Errorf("package %s: unknown pdf_type %q", p.ID, p.PDFType)
	}
	return nil
}

// ValidateSelection checks the user's category picks against the package
// rules. For a full package the selection is replaced with all categories
// regardless of user interaction; otherwise 1..AuditsIncluded distinct,
// known categories are required. Returns the effective selection.
func (p *Package) ValidateSelection(selected []Category) ([]Category, error) {
	if p.IsFull() {
		return AllCategories(), nil
	}
	if len(selected) < 1 {
		return nil, eris.Errorf("package %s: select at least one audit category", p.ID)
	}
	if len(selected) > p.AuditsIncluded {
		return nil, eris.Errorf("package %s: at most %d audit categories allowed", p.ID, p.AuditsIncluded)
	}
	seen := make(map[Category]bool, len(selected))
	for _, c := range selected {
		if !ValidCategory(c) {
			return nil, eris.Errorf("package %s: unknown audit category %q", p.ID, c)
		}
		if seen[c] {
			return nil, eris.Errorf("package %s: duplicate audit category %q", p.ID, c)
		}
		seen[c] = true
	}
	return selected, nil
}

// DefaultCatalog returns the built-in package tiers, used when no catalog
// file or database rows exist.
func DefaultCatalog() []Package {
	return []Package{
		{
			ID:             "starter",
			Name:           "Starter",
			Price:          0,
			Currency:       "EUR",
			AuditsIncluded: 2,
			TotalAudits:    6,
			Features:       []string{"Choose 2 audit types", "Basic score overview", "Share on social media"},
			PDFType:        PDFTypeNone,
			RequiresShare:  true,
			Active:         true,
			SortOrder:      1,
		},
		{
			ID:             "pro",
			Name:           "Pro",
			Price:          1.99,
			Currency:       "EUR",
			AuditsIncluded: 4,
			TotalAudits:    6,
			Features:       []string{"Choose 4 audit types", "Detailed issue breakdown", "Basic PDF report", "Email delivery"},
			PDFType:        PDFTypeBasic,
			Popular:        true,
			Active:         true,
			SortOrder:      2,
		},
		{
			ID:             "full",
			Name:           "Full",
			Price:          4.99,
			Currency:       "EUR",
			AuditsIncluded: 6,
			TotalAudits:    6,
			Features:       []string{"All 6 audit types", "Full issue details", "Professional PDF report", "Priority support", "AI recommendations"},
			PDFType:        PDFTypeProfessional,
			Active:         true,
			SortOrder:      3,
		},
	}
}

// LoadCatalog reads a package catalog from a YAML file and validates every
// entry. A missing path falls back to the default catalog.
func LoadCatalog(path string) ([]Package, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, eris.Wrapf(err, "package: read catalog %s", path)
	}

	var doc struct {
		Packages []Package `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "package: parse catalog %s", path)
	}
	if len(doc.Packages) == 0 {
		return nil, eris.Errorf("package: catalog %s defines no packages", path)
	}
	for i := range doc.Packages {
		if err := doc.Packages[i].Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Packages, nil
}
