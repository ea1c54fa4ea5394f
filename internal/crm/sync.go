// Package crm mirrors converted leads into Salesforce and Notion.
// Sync is best-effort: the funnel never waits on it and failures land in
// an in-memory dead letter queue for the ops command to replay.
package crm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/resilience"
	"github.com/awa-labs/webauditor/pkg/notion"
	"github.com/awa-labs/webauditor/pkg/salesforce"
)

const (
	targetSalesforce = "salesforce"
	targetNotion     = "notion"

	dlqMaxRetries = 3
)

// Syncer pushes leads to the configured CRM targets. Each target sits
// behind its own circuit breaker so an outage on one CRM stops consuming
// the retry budget on every enrollment.
type Syncer struct {
	sf       salesforce.Client
	notion   notion.Client
	notionDB string
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
	log      *zap.Logger

	mu  sync.Mutex
	dlq []resilience.DLQEntry
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSalesforce enables the Salesforce target.
func WithSalesforce(c salesforce.Client) SyncerOption {
	return func(s *Syncer) {
		s.sf = c
	}
}

// WithNotion enables the Notion target writing into dbID.
func WithNotion(c notion.Client, dbID string) SyncerOption {
	return func(s *Syncer) {
		s.notion = c
		s.notionDB = dbID
	}
}

// WithRetry overrides the per-target retry policy.
func WithRetry(cfg resilience.RetryConfig) SyncerOption {
	return func(s *Syncer) {
		s.retry = cfg
	}
}

// WithCircuitBreaker overrides the per-target breaker policy.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) SyncerOption {
	return func(s *Syncer) {
		s.breakers = resilience.NewServiceBreakers(cfg)
	}
}

// NewSyncer creates a Syncer. Targets left unconfigured are skipped.
func NewSyncer(opts ...SyncerOption) *Syncer {
	s := &Syncer{
		retry: resilience.DefaultRetryConfig(),
		log:   zap.L().With(zap.String("component", "crm")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breakers == nil {
		s.breakers = resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{})
	}
	return s
}

// SyncLead pushes one lead to every configured target. Failures are logged
// and queued; the caller is never blocked on CRM availability beyond the
// retry budget.
func (s *Syncer) SyncLead(ctx context.Context, lead *model.Lead, pkg *model.Package) {
	if s.sf != nil {
		if err := s.syncSalesforce(ctx, lead, pkg); err != nil {
			s.log.Warn("salesforce sync failed",
				zap.String("lead_id", lead.ID),
				zap.String("reference", lead.Reference),
				zap.Error(err))
			s.enqueue(lead, targetSalesforce, err)
		}
	}
	if s.notion != nil {
		if err := s.syncNotion(ctx, lead, pkg); err != nil {
			s.log.Warn("notion sync failed",
				zap.String("lead_id", lead.ID),
				zap.String("reference", lead.Reference),
				zap.Error(err))
			s.enqueue(lead, targetNotion, err)
		}
	}
}

// Pending returns a copy of the dead letter queue.
func (s *Syncer) Pending() []resilience.DLQEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resilience.DLQEntry, len(s.dlq))
	copy(out, s.dlq)
	return out
}

func (s *Syncer) enqueue(lead *model.Lead, target string, err error) {
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Lead:         *lead,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		FailedTarget: target,
		MaxRetries:   dlqMaxRetries,
		NextRetryAt:  now.Add(15 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	s.mu.Lock()
	s.dlq = append(s.dlq, entry)
	s.mu.Unlock()
}

func (s *Syncer) syncSalesforce(ctx context.Context, lead *model.Lead, pkg *model.Package) error {
	record := map[string]any{
		"LastName":    lead.Name,
		"Email":       lead.Email,
		"Company":     lead.URL,
		"LeadSource":  "Website Audit",
		"Description": fmt.Sprintf("Audit reference %s, package %s", lead.Reference, lead.PackageID),
	}
	if pkg != nil {
		record["Description"] = fmt.Sprintf("Audit reference %s, package %s (%.2f %s)",
			lead.Reference, pkg.Name, pkg.Price, pkg.Currency)
	}

	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger(targetSalesforce, "insert lead")
	return s.breakers.Get(targetSalesforce).Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, cfg, func(ctx context.Context) error {
			_, err := s.sf.InsertOne(ctx, "Lead", record)
			return err
		})
	})
}

func (s *Syncer) syncNotion(ctx context.Context, lead *model.Lead, pkg *model.Package) error {
	packageName := lead.PackageID
	if pkg != nil {
		packageName = pkg.Name
	}

	page := notion.LeadPage{
		Name:      lead.Name,
		Email:     lead.Email,
		Reference: lead.Reference,
		Package:   packageName,
		Status:    string(lead.Status),
	}

	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger(targetNotion, "upsert lead page")
	return s.breakers.Get(targetNotion).Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, cfg, func(ctx context.Context) error {
			// DLQ replays re-run the whole sync, so look the page up by
			// reference first and update in place rather than duplicating.
			pageID, err := s.notion.FindLeadPage(ctx, s.notionDB, lead.Reference)
			if err != nil {
				return err
			}
			if pageID != "" {
				return s.notion.UpdateLeadStatus(ctx, pageID, string(lead.Status))
			}
			_, err = s.notion.CreateLeadPage(ctx, s.notionDB, page)
			return err
		})
	})
}
