package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamwolfe2/leadme-sub019/cli/internal/client"
	"github.com/adamwolfe2/leadme-sub019/cli/pkg/output"
	"github.com/adamwolfe2/leadme-sub019/common/signature"
)

type signResult struct {
	Header    string `json:"header"`
	Signature string `json:"signature"`
	Bytes     int    `json:"bytes"`
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a webhook payload",
	Long: `Compute the HMAC-SHA256 signature header for a webhook payload.

The signature covers the exact bytes given, so sign the same file you send.`,
	Example: `  leadctl sign --secret s3cret --data '{"email":"ann@example.com"}'
  leadctl sign --file payload.json
  cat payload.json | leadctl sign --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readPayload(cmd)
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

		res := signResult{
			Header:    client.SignatureHeader,
			Signature: signature.Prefix + signature.Sign(secret, body),
			Bytes:     len(body),
		}
		if f := outputFormat(cmd); f != output.FormatTable {
			return output.Print(f, res)
		}
		fmt.Printf("%s: %s\n", res.Header, res.Signature)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().String("secret", "", "webhook secret (default: profile webhook_secret)")
	signCmd.Flags().StringP("data", "d", "", "payload to sign")
	signCmd.Flags().StringP("file", "f", "", "file holding the payload, - for stdin")
}
