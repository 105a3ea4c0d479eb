package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jrsteele09/cognito-guard/internal/app"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <access-token>",
	Short: "Validate an access token and print its principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*c.GetValidationTimeout())
		defer cancel()

		a, err := app.New(ctx, c)
		if err != nil {
			return fmt.Errorf("[verify] building app: %w", err)
		}
		defer a.Close()

		principal, err := a.Validator.Validate(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(principal)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
