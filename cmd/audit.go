package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/estimate"
	"github.com/awa-labs/webauditor/internal/funnel"
	"github.com/awa-labs/webauditor/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit <url>",
	Short: "Run a single website audit from the CLI",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	f := auditCmd.Flags()
	f.String("categories", "", "comma-separated categories (default: all)")
	f.Bool("json", false, "print the full audit as JSON")
	f.Bool("estimate", false, "print a remediation price estimate")

	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target, err := funnel.NormalizeURL(args[0])
	if err != nil {
		return err
	}

	categories, err := parseCategories(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := buildEngine(st)

	audit, err := st.CreateAudit(ctx, target, categories)
	if err != nil {
		return err
	}

	zap.L().Info("running audit", zap.String("url", target), zap.String("audit_id", audit.ID))
	if err := engine.Run(ctx, audit.ID); err != nil {
		return err
	}

	audit, err = st.GetAudit(ctx, audit.ID)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(audit)
	}

	printAudit(audit)

	if withEstimate, _ := cmd.Flags().GetBool("estimate"); withEstimate {
		return printEstimate(ctx, audit)
	}
	return nil
}

func parseCategories(cmd *cobra.Command) ([]model.Category, error) {
	raw, _ := cmd.Flags().GetString("categories")
	if raw == "" {
		return model.AllCategories(), nil
	}

	var categories []model.Category
	for _, part := range strings.Split(raw, ",") {
		c := model.Category(strings.TrimSpace(part))
		if !model.ValidCategory(c) {
			return nil, eris.Errorf("unknown category %q", c)
		}
		categories = append(categories, c)
	}
	return categories, nil
}

func printAudit(audit *model.Audit) {
	fmt.Printf("Audit %s\n", audit.ID)
	fmt.Printf("  URL:     %s\n", audit.URL)
	fmt.Printf("  Status:  %s\n", audit.Status)
	if audit.Status == model.AuditStatusFailed {
		fmt.Printf("  Error:   %s\n", audit.Error)
		return
	}
	fmt.Printf("  Overall: %d/100\n", audit.OverallScore)

	for _, c := range audit.Categories {
		fmt.Printf("  %-14s %d/100\n", c+":", audit.Scores[c])
	}

	if len(audit.Issues) == 0 {
		fmt.Println("  No issues found.")
		return
	}
	fmt.Printf("  Issues (%d):\n", len(audit.Issues))
	for _, issue := range audit.Issues {
		fmt.Printf("    [%s] %s: %s\n", issue.Severity, issue.Category, issue.Title)
	}
}

func printEstimate(ctx context.Context, audit *model.Audit) error {
	opts := []estimate.EstimatorOption{estimate.WithHourlyRate(cfg.Estimate.HourlyRate)}
	if cfg.Anthropic.Key != "" {
		opts = append(opts, estimate.WithSummarizer(estimate.NewSummarizer(cfg.Anthropic.Key)))
	}

	est, err := estimate.NewEstimator(opts...).Estimate(ctx, audit)
	if err != nil {
		return err
	}

	fmt.Printf("\nRemediation estimate (%.2f %s/h):\n", est.HourlyRate, est.Currency)
	for category, line := range est.ByCategory {
		fmt.Printf("  %-14s %d issues, %.1fh, %.2f %s\n",
			category+":", line.Issues, line.Hours, line.Cost, est.Currency)
	}
	fmt.Printf("  Total: %.1fh, %.2f %s\n", est.TotalHours, est.Total, est.Currency)
	if est.Summary != "" {
		fmt.Printf("\n%s\n", est.Summary)
	}
	return nil
}
