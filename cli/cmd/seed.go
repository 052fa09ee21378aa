package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/internal/seeder"
	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate a fake lead file",
	Long: `Generate fake leads as CSV or JSON for bulk import testing.

Use --malformed to mix in rows the importer should reject.`,
	Example: `  leadctl seed --count 500 --out leads.csv
  leadctl seed --count 50 --malformed 0.1 --industries Solar,Roofing --states CA,TX
  leadctl seed --format json --count 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		malformed, _ := cmd.Flags().GetFloat64("malformed")
		seed, _ := cmd.Flags().GetInt64("seed")
		industries, _ := cmd.Flags().GetStringSlice("industries")
		states, _ := cmd.Flags().GetStringSlice("states")

		if count < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		if malformed < 0 || malformed > 1 {
			return fmt.Errorf("--malformed must be between 0 and 1")
		}

		gen := seeder.New(seeder.Options{
			Count:         count,
			Seed:          seed,
			Industries:    industries,
			States:        states,
			MalformedRate: malformed,
		})

		var w io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outPath, err)
			}
			defer f.Close()
			w = f
		}

		var (
			sum seeder.Summary
			err error
		)
		switch format {
		case "csv":
			sum, err = gen.WriteCSV(w)
		case "json":
			if malformed > 0 {
				return fmt.Errorf("--malformed only applies to csv output")
			}
			sum, err = gen.WriteJSON(w)
		default:
			return fmt.Errorf("unknown format %q (want csv or json)", format)
		}
		if err != nil {
			return fmt.Errorf("failed to write leads: %w", err)
		}

		if outPath != "" {
			output.Success("Wrote %d leads to %s", sum.Rows, outPath)
			if sum.Malformed > 0 {
				output.Info("Malformed rows: %d", sum.Malformed)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntP("count", "n", 100, "number of leads")
	seedCmd.Flags().String("format", "csv", "file format: csv, json")
	seedCmd.Flags().String("out", "", "output file (default: stdout)")
	seedCmd.Flags().Float64("malformed", 0, "fraction of csv rows written with a missing column")
	seedCmd.Flags().Int64("seed", 0, "random seed for reproducible output (0 = random)")
	seedCmd.Flags().StringSlice("industries", nil, "industries to draw from")
	seedCmd.Flags().StringSlice("states", nil, "state codes to draw from")
}
