package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/database"
	"github.com/nexus-scanner/nexus/internal/report"
	"github.com/nexus-scanner/nexus/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query persisted scan results",
	Long: `Results reads previously persisted scans from the database.
A database DSN must be configured (--db-dsn or NEXUS_DATABASE_DSN).`,
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		scans, err := store.ListScans(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list scans: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCAN ID\tTARGET\tSTATUS\tRESOURCES\tSTARTED")
		for _, s := range scans {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID, s.Target.String(), s.Status, s.Discovered,
				s.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var resultsFindingsCmd = &cobra.Command{
	Use:   "findings <scan-id>",
	Short: "Show findings for a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		state, err := store.GetScan(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return report.WriteJSON(os.Stdout, *state)
		}
		report.WriteConsole(os.Stdout, *state)
		return nil
	},
}

var resultsSeverityCmd = &cobra.Command{
	Use:   "severity <level>",
	Short: "List findings across scans at one severity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		severity := types.Severity(args[0])
		if !severity.Valid() {
			return fmt.Errorf("unknown severity %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		findings, err := store.FindingsBySeverity(cmd.Context(), severity, limit)
		if err != nil {
			return fmt.Errorf("failed to query findings: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCAN ID\tDETECTOR\tTITLE\tRESOURCE")
		for _, f := range findings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ScanID, f.Detector, f.Title, f.Resource)
		}
		return w.Flush()
	},
}

func openStore() (core.ScanStore, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("no database configured; set --db-dsn or NEXUS_DATABASE_DSN")
	}
	return database.NewStore(cfg.Database, log)
}

func init() {
	resultsListCmd.Flags().Int("limit", 50, "Maximum scans to list")
	resultsFindingsCmd.Flags().Bool("json", false, "Emit the full JSON report")
	resultsSeverityCmd.Flags().Int("limit", 100, "Maximum findings to list")

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsFindingsCmd)
	resultsCmd.AddCommand(resultsSeverityCmd)
	rootCmd.AddCommand(resultsCmd)
}
