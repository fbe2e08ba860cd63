package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dev/bravebird/form-submitter/pkg/app"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/observability"
	"dev/bravebird/form-submitter/pkg/report"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the summary for the configured targets without opening a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := cfg.LoadTargets()
			if err != nil {
				return err
			}
			tr, err := app.OpenTracker(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer tr.Close()

			summary, err := report.Summarize(cmd.Context(), targets, tr)
			if err != nil {
				return err
			}
			return report.Render(cmd.OutOrStdout(), summary)
		},
	}
}

func newRecordsCmd() *cobra.Command {
	var (
		asJSON bool
		status string
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List every submission record in the tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			want := models.SubmissionStatus(status)
			if want != "" && !want.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			tr, err := app.OpenTracker(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer tr.Close()

			all, err := tr.Records(cmd.Context())
			if err != nil {
				return err
			}
			records := make([]models.SubmissionRecord, 0, len(all))
			for _, r := range all {
				if want == "" || r.Status == want {
					records = append(records, r)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.TargetKey, r.Status, r.Attempts, r.UpdatedAt.Local().Format(time.DateTime), r.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().StringVar(&status, "status", "", "only records with this status")
	return cmd
}
