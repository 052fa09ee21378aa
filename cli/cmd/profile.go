package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
	"github.com/adamwolfe2/leadme-sub019/common/config"
)

// profileView is a profile with its credentials masked.
type profileView struct {
	Name          string `json:"name"`
	Current       bool   `json:"current"`
	IngestURL     string `json:"ingest_url,omitempty"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	AccessToken   string `json:"access_token"`
	WebhookSecret string `json:"webhook_secret"`
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:     "set [name]",
	Short:   "Create or update a profile and make it current",
	Example: `  leadctl profile set local --ingest-url http://localhost:8088 --workspace ws-1 --webhook-secret s3cret`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		p, err := cfg.GetProfile(name)
		if err != nil {
			p = &config.CLIProfile{}
		}
		if cmd.Flags().Changed("ingest-url") {
			p.IngestURL, _ = cmd.Flags().GetString("ingest-url")
		}
		if cmd.Flags().Changed("workspace") {
			p.WorkspaceID, _ = cmd.Flags().GetString("workspace")
		}
		if cmd.Flags().Changed("webhook-secret") {
			p.WebhookSecret, _ = cmd.Flags().GetString("webhook-secret")
		}
		if cmd.Flags().Changed("token") {
			p.AccessToken, _ = cmd.Flags().GetString("token")
		}

		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved to %s", name, cfg.Path())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		views := make([]profileView, 0, len(names))
		for _, name := range names {
			p := cfg.Profiles[name]
			views = append(views, profileView{
				Name:          name,
				Current:       name == cfg.CurrentProfile,
				IngestURL:     p.IngestURL,
				WorkspaceID:   p.WorkspaceID,
				AccessToken:   mask(p.AccessToken),
				WebhookSecret: mask(p.WebhookSecret),
			})
		}
		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, views)
		}

		table := output.NewTable([]string{"", "Name", "Ingest URL", "Workspace", "Token", "Webhook Secret"})
		for _, v := range views {
			current := ""
			if v.Current {
				current = "*"
			}
			table.AddRow([]string{current, v.Name, v.IngestURL, v.WorkspaceID, v.AccessToken, v.WebhookSecret})
		}
		table.Render()
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cfg.GetProfile(args[0]); err != nil {
			return err
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		output.Success("Now using profile '%s'", args[0])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func mask(s string) string {
	switch {
	case s == "":
		return "-"
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileListCmd, profileUseCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("ingest-url", "", "ingest service URL")
	profileSetCmd.Flags().StringP("workspace", "w", "", "workspace id")
	profileSetCmd.Flags().String("webhook-secret", "", "webhook secret for send and sign")
	profileSetCmd.Flags().String("token", "", "bearer access token")
}
