package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/export"
	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and export captured leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, total, err := st.ListLeads(ctx, store.LeadFilter{
			Status: model.LeadStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%-20s  %-28s  %-10s  %-10s  %-10s\n", "REFERENCE", "EMAIL", "PACKAGE", "STATUS", "PAYMENT")
		for _, lead := range leads {
			fmt.Printf("%-20s  %-28s  %-10s  %-10s  %-10s\n",
				lead.Reference, lead.Email, lead.PackageID, lead.Status, lead.PaymentStatus)
		}
		fmt.Printf("\n%d of %d leads\n", len(leads), total)
		return nil
	},
}

var leadsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lead pipeline statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.LeadStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Total leads:     %d\n", stats.Total)
		fmt.Printf("Conversion rate: %.1f%%\n", stats.ConversionRate)
		fmt.Println("By status:")
		for status, n := range stats.ByStatus {
			fmt.Printf("  %-12s %d\n", status, n)
		}
		fmt.Println("By package:")
		for pkg, n := range stats.ByPackage {
			fmt.Printf("  %-12s %d\n", pkg, n)
		}
		return nil
	},
}

var leadsExportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export leads to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := export.NewExporter(st).WriteLeads(ctx, store.LeadFilter{
			Status: model.LeadStatus(status),
		}, f)
		if err != nil {
			return err
		}

		zap.L().Info("leads exported", zap.Int("count", n), zap.String("file", args[0]))
		fmt.Printf("Wrote %d leads to %s\n", n, args[0])
		return nil
	},
}

func init() {
	leadsListCmd.Flags().String("status", "", "filter by lead status")
	leadsListCmd.Flags().Int("limit", 50, "maximum leads to list")
	leadsExportCmd.Flags().String("status", "", "filter by lead status")

	leadsCmd.AddCommand(leadsListCmd, leadsStatsCmd, leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}
