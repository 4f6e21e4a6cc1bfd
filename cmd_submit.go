package main

import (
	"github.com/spf13/cobra"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/models"
)

var submitLead models.Lead

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Append one lead to the sheet",
	Long: `Runs one lead through the same validate, token and append path the
HTTP server uses. Intended for smoke tests against a real sheet.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitLead.Name, "name", "", "lead name")
	submitCmd.Flags().StringVar(&submitLead.Email, "email", "", "lead email")
	submitCmd.Flags().StringVar(&submitLead.Phone, "phone", "", "lead phone")
	submitCmd.Flags().StringVar(&submitLead.InvestmentAmount, "investment", "", "investment bracket")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	c, err := buildComponents(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.service().Submit(cmd.Context(), submitLead, "cli"); err != nil {
		return err
	}
	cmd.Println("Data submitted successfully")
	return nil
}
