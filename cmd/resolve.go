package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type resolveOutput struct {
	JobID      string            `json:"job_id"`
	Platform   string            `json:"platform"`
	URL        string            `json:"url"`
	Attributes map[string]string `json:"attributes"`
	Location   string            `json:"location,omitempty"`
	Bytes      int64             `json:"bytes,omitempty"`
	SHA256     string            `json:"sha256,omitempty"`
}

func newResolveCmd() *cobra.Command {
	var download bool
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve one media link and print its attributes as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)

			result, err := appInstance.Resolve(cmd.Context(), args[0], download)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}

			out := resolveOutput{
				JobID:      result.JobID,
				Platform:   string(result.Platform),
				URL:        result.URL,
				Attributes: result.Attributes,
				Location:   result.Download.Location,
				Bytes:      result.Download.Bytes,
				SHA256:     result.Download.SHA256,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&download, "download", false, "also fetch the media into the configured store")
	return cmd
}
