package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
	"github.com/adamwolfe2/leadme-sub019/common/tokens"
)

type tokenResult struct {
	Token       string    `json:"token"`
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development access token",
	Long: `Mint a workspace-scoped JWT for the /api/v1 endpoints.

The secret must match the service's auth.jwt_secret. Use --save to store the
token in the selected profile.`,
	Example: `  leadctl token --workspace ws-1 --secret dev-secret
  LEADME_AUTH_JWT_SECRET=dev-secret leadctl token --workspace ws-1 --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("LEADME_AUTH_JWT_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("JWT secret is required (use --secret or LEADME_AUTH_JWT_SECRET)")
		}

		profile, p := currentProfile(cmd)
		workspace, _ := cmd.Flags().GetString("workspace")
		if workspace == "" {
			workspace = p.WorkspaceID
		}
		if workspace == "" {
			return fmt.Errorf("workspace is required (use --workspace or set workspace_id in the profile)")
		}
		user, _ := cmd.Flags().GetString("user")
		roles, _ := cmd.Flags().GetStringSlice("roles")
		issuer, _ := cmd.Flags().GetString("issuer")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := tokens.NewManager(secret, issuer).WithTTL(ttl).Generate(workspace, user, roles)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			if profile == "" {
				profile = cfg.CurrentProfile
			}
			if err := cfg.SaveAccessToken(profile, token); err != nil {
				output.Warn("Failed to save token: %v", err)
			} else {
				output.Info("Token saved to profile '%s'", profile)
			}
		}

		res := tokenResult{
			Token:       token,
			WorkspaceID: workspace,
			UserID:      user,
			ExpiresAt:   time.Now().Add(ttl).UTC().Truncate(time.Second),
		}
		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, res)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("secret", "", "JWT signing secret (default: $LEADME_AUTH_JWT_SECRET)")
	tokenCmd.Flags().StringP("workspace", "w", "", "workspace id (default: profile workspace_id)")
	tokenCmd.Flags().String("user", "leadctl", "user id claim")
	tokenCmd.Flags().StringSlice("roles", []string{"admin"}, "role claims")
	tokenCmd.Flags().String("issuer", "leadme", "token issuer")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().Bool("save", false, "store the token in the selected profile")
}
