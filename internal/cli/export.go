package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatbridge/internal/domain"
)

func newExportCommand(opts *options) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "export <transcript.json>",
		Short: "Export a saved transcript",
		Long:  "Export a JSON array of messages, as returned by the /generate endpoint, to the configured document store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var transcript []domain.Message
			if err := json.Unmarshal(raw, &transcript); err != nil {
				return fmt.Errorf("parse transcript: %w", err)
			}

			rt, err := setup(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			s := &chatSession{
				exporter: rt.pipeline.Exporter,
				settings: rt.settings.Get,
				secrets:  rt.secrets,
				conv:     domain.NewConversation(),
				out:      cmd.OutOrStdout(),
			}
			for _, m := range transcript {
				s.conv.Append(m)
			}
			return s.export(cmd.Context(), target)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "override the configured target (Notion or Feishu)")
	return cmd
}
