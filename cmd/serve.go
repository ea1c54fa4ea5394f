package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/awa-labs/webauditor/internal/api"
	"github.com/awa-labs/webauditor/internal/auditor"
	"github.com/awa-labs/webauditor/internal/billing"
	"github.com/awa-labs/webauditor/internal/crm"
	"github.com/awa-labs/webauditor/internal/enroll"
	"github.com/awa-labs/webauditor/internal/evidence"
	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/resilience"
	"github.com/awa-labs/webauditor/internal/store"
	"github.com/awa-labs/webauditor/pkg/notion"
	"github.com/awa-labs/webauditor/pkg/pagespeed"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the funnel API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		catalog, err := model.LoadCatalog(cfg.Packages.CatalogPath)
		if err != nil {
			return err
		}

		recorder, err := buildRecorder(st)
		if err != nil {
			return err
		}

		engine := buildEngine(st)

		opts := []api.Option{
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		}

		if cfg.Billing.BaseURL != "" {
			checkout := billing.NewClient(cfg.Billing.BaseURL, cfg.Billing.Key,
				billing.WithReturnURLs(cfg.Billing.SuccessURL, cfg.Billing.CancelURL))
			opts = append(opts, api.WithCheckout(checkout))
		}

		if cfg.Salesforce.ClientID != "" || cfg.Notion.Token != "" {
			syncer, err := buildSyncer()
			if err != nil {
				return err
			}
			opts = append(opts, api.WithSyncer(syncer))
		}

		if cfg.Evidence.Host != "" {
			if err := cfg.Validate("evidence"); err != nil {
				return err
			}
			archiver := evidence.NewArchiver(evidence.Config{
				Host:     cfg.Evidence.Host,
				User:     cfg.Evidence.User,
				Password: cfg.Evidence.Password,
				BaseDir:  cfg.Evidence.BaseDir,
			})
			opts = append(opts, api.WithArchiver(archiver))
		}

		server := api.NewServer(st, engine, catalog, recorder, opts...)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRecorder creates the enrollment recorder from the configured terms
// document. An unset content path falls back to a placeholder so local
// development works without one.
func buildRecorder(sink enroll.AuditLogSink) (*enroll.Recorder, error) {
	termsContent := "AWA Labs website audit terms of service."
	if cfg.Terms.ContentPath != "" {
		data, err := os.ReadFile(cfg.Terms.ContentPath)
		if err != nil {
			return nil, eris.Wrap(err, "read terms content")
		}
		termsContent = string(data)
	}

	return enroll.NewRecorder(termsContent, cfg.Terms.Version, sink,
		enroll.WithIPLookup(api.ContextIPLookup()),
		enroll.WithReferencePrefix(cfg.Terms.RefPrefix),
	), nil
}

func buildEngine(st store.Store) *auditor.Engine {
	fetcher := auditor.NewFetcher(
		auditor.WithRateLimit(rate.Limit(cfg.Audit.RequestsPerSecond), max(int(cfg.Audit.RequestsPerSecond), 1)),
		auditor.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Audit.TimeoutSecs) * time.Second}),
	)

	engineOpts := []auditor.EngineOption{auditor.WithFetcher(fetcher)}
	if cfg.PageSpeed.Key != "" {
		ps := pagespeed.NewClient(cfg.PageSpeed.Key, pagespeed.WithBaseURL(cfg.PageSpeed.BaseURL))
		engineOpts = append(engineOpts, auditor.WithPageSpeed(ps))
	}

	return auditor.NewEngine(st, engineOpts...)
}

func buildSyncer() (*crm.Syncer, error) {
	if err := cfg.Validate("crm"); err != nil {
		return nil, err
	}

	opts := []crm.SyncerOption{
		crm.WithRetry(resilience.FromRetryConfig(
			cfg.CRM.RetryAttempts,
			cfg.CRM.RetryBackoffMs,
			cfg.CRM.RetryMaxBackoffMs,
			cfg.CRM.RetryMultiplier,
			cfg.CRM.RetryJitter,
		)),
		crm.WithCircuitBreaker(resilience.FromCircuitConfig(
			cfg.CRM.BreakerThreshold,
			cfg.CRM.BreakerResetSecs,
		)),
	}
	if cfg.Salesforce.ClientID != "" {
		sf, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		opts = append(opts, crm.WithSalesforce(sf))
	}
	if cfg.Notion.Token != "" {
		opts = append(opts, crm.WithNotion(notion.NewClient(cfg.Notion.Token), cfg.Notion.LeadDB))
	}

	return crm.NewSyncer(opts...), nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
