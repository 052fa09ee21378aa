package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/internal/client"
	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import commands",
	Long:  "Submit lead files for bulk import and check on import jobs",
}

var importSubmitCmd = &cobra.Command{
	Use:   "submit [file-url]",
	Short: "Import a lead file",
	Long: `Ask the service to download and import a CSV or JSON lead file.

Submitting the same URL and audience again returns the earlier job.`,
	Example: `  leadctl import submit https://files.example.com/leads.csv --audience aud-1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p := currentProfile(cmd)
		if p.AccessToken == "" {
			return fmt.Errorf("no access token in profile (run 'leadctl token --save')")
		}
		audience, _ := cmd.Flags().GetString("audience")

		c := client.NewIngestClient(ingestURL(cmd))
		resp, err := c.CreateImport(p.AccessToken, client.ImportRequest{
			FileURL:    args[0],
			AudienceID: audience,
		})
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, resp)
		}
		if resp.Duplicate {
			output.Warn("File was already imported; showing the earlier job")
		}
		output.Success("Import %s: %s", resp.JobID, resp.Status)
		output.Info("Rows: %d  Stored: %d  Failed: %d", resp.TotalRows, resp.Stored, resp.FailedRows)
		return nil
	},
}

var importStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show an import job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p := currentProfile(cmd)
		if p.AccessToken == "" {
			return fmt.Errorf("no access token in profile (run 'leadctl token --save')")
		}

		job, err := client.NewIngestClient(ingestURL(cmd)).ImportStatus(p.AccessToken, args[0])
		if err != nil {
			return fmt.Errorf("failed to get import: %w", err)
		}

		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, job)
		}
		completed := "-"
		if job.CompletedAt != nil {
			completed = job.CompletedAt.Format(time.RFC3339)
		}
		table := output.NewTable([]string{"ID", "Status", "Total", "Processed", "Failed", "Created", "Completed"})
		table.AddRow([]string{
			job.ID,
			job.Status,
			strconv.Itoa(job.TotalRows),
			strconv.Itoa(job.ProcessedRows),
			strconv.Itoa(job.FailedRows),
			job.CreatedAt.Format(time.RFC3339),
			completed,
		})
		table.Render()
		if job.Error != "" {
			output.Warn("Error: %s", job.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importSubmitCmd)
	importCmd.AddCommand(importStatusCmd)

	importCmd.PersistentFlags().String("ingest-url", "", "ingest service URL (default: profile or config)")
	importSubmitCmd.Flags().String("audience", "", "audience id the rows belong to")
}
