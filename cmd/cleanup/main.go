package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/safestay/safestay/internal/app"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/config"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/tenant"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "safestay-cleanup",
		Short: "Report or purge tenant records left behind by failed submissions",
		Long: `Lists tenant records that no agreement references, e.g. when the
agreement was filled by a concurrent submission. Records younger than
--grace are skipped so in-flight submissions are never touched.
Nothing is deleted unless --delete is given.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().Duration("grace", 15*time.Minute, "Minimum record age before it counts as orphaned")
	rootCmd.Flags().Bool("delete", false, "Delete the orphaned records instead of only listing them")
	rootCmd.Flags().String("actor", "operator", "Actor recorded in the audit log for deletions")
	rootCmd.Flags().String("agreement", "", "List every submission for one agreement instead of the orphan report")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	grace, _ := cmd.Flags().GetDuration("grace")
	purge, _ := cmd.Flags().GetBool("delete")
	actor, _ := cmd.Flags().GetString("actor")
	agreementID, _ := cmd.Flags().GetString("agreement")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-cleanup",
	})

	ctx := cmd.Context()
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close(ctx)

	svc := tenant.NewService(stores.Tenants, audit.NewSlogLogger())

	if agreementID != "" {
		return reportAgreement(cmd, stores, svc, agreementID)
	}

	if purge {
		n, err := svc.PurgeOrphans(ctx, grace, actor)
		if err != nil {
			return fmt.Errorf("purged %d records before failing: %w", n, err)
		}
		fmt.Printf("Purged %d orphaned tenant records.\n", n)
		return nil
	}

	records, err := svc.Orphans(ctx, grace)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No orphaned tenant records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tAGREEMENT\tNAME\tSUBMITTED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.AgreementRef, r.DisplayName(), r.SubmittedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d orphaned records. Re-run with --delete to purge them.\n", len(records))
	return nil
}

// reportAgreement lists all records submitted against one agreement and
// marks the one the agreement links to.
func reportAgreement(cmd *cobra.Command, stores *app.Stores, svc *tenant.Service, agreementID string) error {
	ctx := cmd.Context()
	a, err := stores.Agreements.GetByID(ctx, agreementID)
	if err != nil {
		return err
	}
	records, err := svc.Submissions(ctx, agreementID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("Agreement %s (%s) has no submissions.\n", a.ID, a.Status)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tNAME\tSUBMITTED\tLINKED")
	for _, r := range records {
		linked := a.TenantRef != nil && *a.TenantRef == r.ID
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.ID, r.DisplayName(), r.SubmittedAt.Format(time.RFC3339), linked)
	}
	return w.Flush()
}
