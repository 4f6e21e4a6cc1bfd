package main

import (
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint one access token to check the service account",
	Long: `Signs an assertion with the configured service account and exchanges it
for an access token. Only the token type and expiry are printed.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	c, err := buildComponents(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	tok, err := c.minter.Mint(cmd.Context())
	if err != nil {
		return err
	}

	cmd.Printf("token type: %s\n", tok.Type())
	if !tok.Expiry.IsZero() {
		cmd.Printf("expires at: %s (in %s)\n", tok.Expiry.UTC().Format(time.RFC3339), time.Until(tok.Expiry).Round(time.Second))
	}
	return nil
}
