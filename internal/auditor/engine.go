package auditor

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/scorer"
	"github.com/awa-labs/webauditor/internal/store"
	"github.com/awa-labs/webauditor/pkg/pagespeed"
)

// Engine runs audits end to end: fetch, per-category checks, persistence.
type Engine struct {
	store     store.Store
	fetcher   *Fetcher
	pagespeed pagespeed.Client
	log       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFetcher overrides the default fetcher.
func WithFetcher(f *Fetcher) EngineOption {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// WithPageSpeed enables PageSpeed Insights for the performance category.
// Without it the engine falls back to a response-time heuristic.
func WithPageSpeed(c pagespeed.Client) EngineOption {
	return func(e *Engine) {
		e.pagespeed = c
	}
}

// NewEngine creates an audit engine persisting through st.
func NewEngine(st store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   st,
		fetcher: NewFetcher(),
		log:     zap.L().With(zap.String("component", "auditor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates a pending audit and runs it in a background goroutine.
// The returned audit carries the id the caller polls on.
func (e *Engine) Start(ctx context.Context, url string, categories []model.Category) (*model.Audit, error) {
	audit, err := e.store.CreateAudit(ctx, url, categories)
	if err != nil {
		return nil, err
	}

	// The run outlives the originating request.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := e.Run(runCtx, audit.ID); err != nil {
			e.log.Error("audit run failed",
				zap.String("audit_id", audit.ID),
				zap.String("url", url),
				zap.Error(err))
		}
	}()

	return audit, nil
}

// Get returns the current state of an audit.
func (e *Engine) Get(ctx context.Context, auditID string) (*model.Audit, error) {
	return e.store.GetAudit(ctx, auditID)
}

// Run executes a previously created audit to completion, flipping its
// status pending -> running -> completed/failed in the store.
func (e *Engine) Run(ctx context.Context, auditID string) error {
	audit, err := e.store.GetAudit(ctx, auditID)
	if err != nil {
		return err
	}

	if err := e.store.UpdateAuditStatus(ctx, auditID, model.AuditStatusRunning); err != nil {
		return err
	}

	site, err := e.gather(ctx, audit.URL)
	if err != nil {
		e.log.Warn("target unreachable",
			zap.String("audit_id", auditID),
			zap.String("url", audit.URL),
			zap.Error(err))
		if failErr := e.store.FailAudit(ctx, auditID, "target unreachable"); failErr != nil {
			return failErr
		}
		return err
	}

	scores, issues := e.runChecks(ctx, audit, site)

	audit.Scores = scores
	audit.Issues = issues
	audit.OverallScore = scorer.Overall(scores)
	if err := e.store.CompleteAudit(ctx, audit); err != nil {
		return err
	}

	e.log.Info("audit completed",
		zap.String("audit_id", auditID),
		zap.String("url", audit.URL),
		zap.Int("overall", audit.OverallScore),
		zap.Int("issues", len(issues)))
	return nil
}

// gather fetches the page itself plus the sibling resources the SEO check
// looks at, concurrently.
func (e *Engine) gather(ctx context.Context, url string) (*SiteInfo, error) {
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if page.StatusCode >= 400 {
		return nil, eris.Errorf("auditor: target returned status %d", page.StatusCode)
	}

	site := &SiteInfo{Page: page}

	root, err := SiteRoot(page.FinalURL)
	if err != nil {
		return site, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		site.HasRobots = e.fetcher.Exists(gctx, root+"/robots.txt")
		return nil
	})
	g.Go(func() error {
		site.HasSitemap = e.fetcher.Exists(gctx, root+"/sitemap.xml")
		return nil
	})
	_ = g.Wait()

	return site, nil
}

// runChecks fans the requested categories out concurrently and collects
// scores and issues.
func (e *Engine) runChecks(ctx context.Context, audit *model.Audit, site *SiteInfo) (map[model.Category]int, []model.AuditIssue) {
	checks := map[model.Category]checkFunc{
		model.CategorySEO:           checkSEO,
		model.CategorySecurity:      checkSecurity,
		model.CategoryGDPR:          checkGDPR,
		model.CategoryAccessibility: checkAccessibility,
		model.CategoryMobileUX:      checkMobileUX,
	}

	var mu sync.Mutex
	scores := make(map[model.Category]int)
	var issues []model.AuditIssue

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range audit.Categories {
		switch {
		case cat == model.CategoryPerformance:
			g.Go(func() error {
				score, found := e.checkPerformance(gctx, site)
				mu.Lock()
				scores[model.CategoryPerformance] = score
				issues = append(issues, found...)
				mu.Unlock()
				return nil
			})
		case checks[cat] != nil:
			check := checks[cat]
			g.Go(func() error {
				score, found := check(site)
				mu.Lock()
				scores[cat] = score
				issues = append(issues, found...)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	return scores, issues
}

// checkPerformance runs PageSpeed Insights when configured and degrades to
// the local heuristic on any failure.
func (e *Engine) checkPerformance(ctx context.Context, site *SiteInfo) (int, []model.AuditIssue) {
	if e.pagespeed == nil {
		return checkPerformanceHeuristic(site)
	}

	result, err := e.pagespeed.Analyze(ctx, site.Page.FinalURL,
		pagespeed.WithCategories("performance"))
	if err != nil {
		e.log.Warn("pagespeed unavailable, falling back to heuristic",
			zap.String("url", site.Page.FinalURL),
			zap.Error(err))
		return checkPerformanceHeuristic(site)
	}

	perf, ok := result.LighthouseResult.Categories["performance"]
	if !ok {
		return checkPerformanceHeuristic(site)
	}

	var issues []model.AuditIssue
	for _, a := range result.LighthouseResult.Audits {
		if a.Score == nil || *a.Score >= 0.9 {
			continue
		}
		sev := model.SeverityMedium
		if *a.Score < 0.5 {
			sev = model.SeverityHigh
		}
		issues = append(issues, model.AuditIssue{
			Category:       model.CategoryPerformance,
			Severity:       sev,
			Title:          a.Title,
			Description:    a.Description,
			EstimatedHours: 1.5,
			Complexity:     model.ComplexityMedium,
		})
	}

	return perf.Score100(), issues
}
