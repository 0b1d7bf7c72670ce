package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/payhook/internal/signature"
)

var signCmd = &cobra.Command{
	Use:   "sign <file|->",
	Short: "Print the signature header value for a payload",
	Long: `Compute the HMAC-SHA256 signature the payment processor would send for
the given body. Use "-" to read the body from stdin.

Examples:
  payhookctl sign event.json
  cat event.json | payhookctl sign -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := requireSecret()
		if err != nil {
			return err
		}
		body, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		sig := signature.NewVerifier(key).Sign(body)
		if outputJSON {
			printOutput(cmd.OutOrStdout(), map[string]string{"header": sigHeader, "signature": sig})
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file|-> <signature>",
	Short: "Check a captured signature against a payload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := requireSecret()
		if err != nil {
			return err
		}
		body, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		ok := signature.NewVerifier(key).Verify(body, args[1])
		if outputJSON {
			printOutput(cmd.OutOrStdout(), map[string]bool{"valid": ok})
		} else if ok {
			fmt.Fprintln(cmd.OutOrStdout(), "✓ signature is valid")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "✗ signature does not match")
		}
		if !ok {
			return fmt.Errorf("signature mismatch")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
}
