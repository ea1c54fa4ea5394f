// Package export produces back-office spreadsheets from stored leads.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/store"
)

// leadHeaders is the column order of the leads sheet.
var leadHeaders = []string{
	"Reference", "Name", "Email", "Language", "URL", "Package",
	"Status", "Payment", "Share Platform", "Newsletter", "Created", "Converted",
}

// Exporter writes lead exports from a Store.
type Exporter struct {
	store store.Store
}

// NewExporter creates an Exporter.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// WriteLeads writes all leads matching filter as an XLSX workbook to w.
// Returns the number of leads exported.
func (e *Exporter) WriteLeads(ctx context.Context, filter store.LeadFilter, w io.Writer) (int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10000
	}
	leads, _, err := e.store.ListLeads(ctx, filter)
	if err != nil {
		return 0, err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range leadHeaders {
		header.AddCell().SetString(h)
	}

	for _, lead := range leads {
		addLeadRow(sheet, lead)
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return 0, eris.Wrap(err, "export: add summary sheet")
	}
	if err := e.writeSummary(ctx, summary); err != nil {
		return 0, err
	}

	if err := f.Write(w); err != nil {
		return 0, eris.Wrap(err, "export: write workbook")
	}
	return len(leads), nil
}

func addLeadRow(sheet *xlsx.Sheet, lead model.Lead) {
	row := sheet.AddRow()
	row.AddCell().SetString(lead.Reference)
	row.AddCell().SetString(lead.Name)
	row.AddCell().SetString(lead.Email)
	row.AddCell().SetString(lead.Language)
	row.AddCell().SetString(lead.URL)
	row.AddCell().SetString(lead.PackageID)
	row.AddCell().SetString(string(lead.Status))
	row.AddCell().SetString(string(lead.PaymentStatus))
	row.AddCell().SetString(lead.SharePlatform)
	row.AddCell().SetBool(lead.NewsletterConsent)
	row.AddCell().SetString(lead.CreatedAt.UTC().Format(time.RFC3339))
	if lead.ConvertedAt != nil {
		row.AddCell().SetString(lead.ConvertedAt.UTC().Format(time.RFC3339))
	} else {
		row.AddCell().SetString("")
	}
}

func (e *Exporter) writeSummary(ctx context.Context, sheet *xlsx.Sheet) error {
	stats, err := e.store.LeadStats(ctx)
	if err != nil {
		return err
	}

	addKV := func(k, v string) {
		row := sheet.AddRow()
		row.AddCell().SetString(k)
		row.AddCell().SetString(v)
	}

	addKV("Total leads", fmt.Sprintf("%d", stats.Total))
	addKV("Conversion rate", fmt.Sprintf("%.1f%%", stats.ConversionRate))
	for status, n := range stats.ByStatus {
		addKV("Status "+status, fmt.Sprintf("%d", n))
	}
	for pkg, n := range stats.ByPackage {
		addKV("Package "+pkg, fmt.Sprintf("%d", n))
	}
	return nil
}
