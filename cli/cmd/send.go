package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/internal/client"
	"github.com/adamwolfe2/leadme-sub019/cli/internal/seeder"
	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
)

var sendCmd = &cobra.Command{
	Use:   "send [source]",
	Short: "Send a webhook delivery",
	Long: `POST a payload to /webhooks/{source}, authenticated with the profile's
webhook secret. The payload is signed unless --raw-secret is set.`,
	Example: `  leadctl send pixel --data '{"email":"ann@example.com","industry":"solar","state":"CA"}'
  leadctl send mailer --file event.json --secret s3cret
  leadctl send pixel --fake 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fake, _ := cmd.Flags().GetInt("fake")

		var (
			body []byte
			err  error
		)
		if fake > 0 {
			body, err = fakePayload(fake)
		} else {
			body, err = readPayload(cmd)
		}
		if err != nil {
			return err
		}

		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			_, p := currentProfile(cmd)
			secret = p.WebhookSecret
		}
		if secret == "" {
			return fmt.Errorf("webhook secret is required (use --secret or set webhook_secret in the profile)")
		}
		raw, _ := cmd.Flags().GetBool("raw-secret")

		resp, err := client.NewIngestClient(ingestURL(cmd)).SendWebhook(args[0], body, client.WebhookAuth{
			Secret: secret,
			Sign:   !raw,
		})
		if err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}

		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, resp)
		}
		if resp.Duplicate {
			output.Warn("Duplicate delivery; the service replayed its earlier answer")
		}
		output.Success("Stored %d of %d records", resp.Stored, resp.Total)
		if len(resp.Errors) > 0 {
			table := output.NewTable([]string{"Index", "Error"})
			for _, e := range resp.Errors {
				table.AddRow([]string{fmt.Sprint(e.Index), e.Error})
			}
			table.Render()
		}
		return nil
	},
}

// fakePayload is one lead object, or an array when n > 1.
func fakePayload(n int) ([]byte, error) {
	leads := seeder.New(seeder.Options{}).Leads(n)
	if n == 1 {
		return json.Marshal(leads[0])
	}
	return json.Marshal(leads)
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("data", "d", "", "JSON payload")
	sendCmd.Flags().StringP("file", "f", "", "file holding the payload, - for stdin")
	sendCmd.Flags().Int("fake", 0, "send this many generated leads instead of a payload")
	sendCmd.Flags().String("secret", "", "webhook secret (default: profile webhook_secret)")
	sendCmd.Flags().Bool("raw-secret", false, "send the secret header instead of a signature")
	sendCmd.Flags().String("ingest-url", "", "ingest service URL (default: profile or config)")
}
