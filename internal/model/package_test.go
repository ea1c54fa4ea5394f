package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogValid(t *testing.T) {
	for _, p := range DefaultCatalog() {
		assert.NoError(t, p.Validate(), p.ID)
	}
}

func TestPackageValidate_FreeTierMustShare(t *testing.T) {
	p := Package{ID: "freebie", Price: 0, AuditsIncluded: 2, TotalAudits: 6, PDFType: PDFTypeNone}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "social share")

	p.RequiresShare = true
	assert.NoError(t, p.Validate())
}

func TestPackageValidate_Bounds(t *testing.T) {
	tests := []struct {
		name string
		p    Package
		ok   bool
	}{
		{"negative price", Package{ID: "x", Price: -1, AuditsIncluded: 1, TotalAudits: 6, PDFType: PDFTypeNone}, false},
		{"zero included", Package{ID: "x", Price: 1, AuditsIncluded: 0, TotalAudits: 6, PDFType: PDFTypeNone}, false},
		{"included over total", Package{ID: "x", Price: 1, AuditsIncluded: 7, TotalAudits: 6, PDFType: PDFTypeNone}, false},
		{"bad pdf type", Package{ID: "x", Price: 1, AuditsIncluded: 1, TotalAudits: 6, PDFType: "glossy"}, false},
		{"valid priced", Package{ID: "x", Price: 1, AuditsIncluded: 4, TotalAudits: 6, PDFType: PDFTypeBasic}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateSelection_FullAutoSelects(t *testing.T) {
	full := Package{ID: "full", Price: 4.99, AuditsIncluded: 6, TotalAudits: 6, PDFType: PDFTypeProfessional}

	// User picks are ignored entirely for the full package.
	got, err := full.ValidateSelection([]Category{CategorySEO})
	require.NoError(t, err)
	assert.Equal(t, AllCategories(), got)

	got, err = full.ValidateSelection(nil)
	require.NoError(t, err)
	assert.Equal(t, AllCategories(), got)
}

func TestValidateSelection_PartialPackage(t *testing.T) {
	starter := Package{ID: "starter", AuditsIncluded: 2, TotalAudits: 6, RequiresShare: true, PDFType: PDFTypeNone}

	_, err := starter.ValidateSelection(nil)
	assert.Error(t, err, "empty selection rejected")

	_, err = starter.ValidateSelection([]Category{CategorySEO, CategorySecurity, CategoryGDPR})
	assert.Error(t, err, "over the included count")

	_, err = starter.ValidateSelection([]Category{CategorySEO, CategorySEO})
	assert.Error(t, err, "duplicates rejected")

	_, err = starter.ValidateSelection([]Category{CategorySEO, Category("astrology")})
	assert.Error(t, err, "unknown category rejected")

	got, err := starter.ValidateSelection([]Category{CategorySEO, CategorySecurity})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`packages:
  - id: solo
    name: Solo
    price: 2.50
    currency: EUR
    audits_included: 3
    total_audits: 6
    pdf_type: basic
    is_active: true
`), 0o644))

	pkgs, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "solo", pkgs[0].ID)
	assert.Equal(t, 2.50, pkgs[0].Price)

	// Missing file falls back to defaults.
	pkgs, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, pkgs, 3)

	// Invalid catalog entries are rejected.
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`packages:
  - id: broken
    price: 0
    audits_included: 2
    total_audits: 6
    pdf_type: none
`), 0o644))
	_, err = LoadCatalog(bad)
	assert.Error(t, err)
}
