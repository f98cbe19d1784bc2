package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Register the configured webhook URL with Telegram if it is not already set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)

			changed, err := appInstance.RegisterWebhook(cmd.Context())
			if err != nil {
				return fmt.Errorf("webhook: %w", err)
			}
			if changed {
				fmt.Fprintln(cmd.OutOrStdout(), "webhook registered")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "webhook already registered")
			}
			return nil
		},
	}
}
