package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/common/config"
)

var (
	cfgFile string
	cfg     *config.CLIConfig
)

var rootCmd = &cobra.Command{
	Use:   "leadctl",
	Short: "Lead ingestion CLI",
	Long: `leadctl is the command-line companion for the lead ingestion service.

Sign and send webhook payloads, mint development tokens, generate fake
lead files and submit bulk imports from your terminal.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.leadctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.LoadCLI(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

// currentProfile returns the selected profile, or an empty one when none is
// configured so flags alone can drive a command.
func currentProfile(cmd *cobra.Command) (string, *config.CLIProfile) {
	name, _ := cmd.Flags().GetString("profile")
	p, err := cfg.GetProfile(name)
	if err != nil {
		return name, &config.CLIProfile{}
	}
	return name, p
}

// ingestURL resolves --ingest-url, then the profile, then defaults.
func ingestURL(cmd *cobra.Command) string {
	if u, _ := cmd.Flags().GetString("ingest-url"); u != "" {
		return u
	}
	name, _ := cmd.Flags().GetString("profile")
	return cfg.GetIngestURL(name)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

// readPayload reads --data, or the file named by --file ("-" for stdin).
func readPayload(cmd *cobra.Command) ([]byte, error) {
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use either --data or --file, not both")
	case data != "":
		return []byte(data), nil
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, fmt.Errorf("a payload is required (--data or --file)")
	}
}
