package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPromptCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the resolved system prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings(opts)
			if err != nil {
				return err
			}
			s := cfg.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, s.ResolvedSystemPrompt())
			if missing := s.MissingArguments(); len(missing) > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), systemStyle.Render("missing arguments: "+strings.Join(missing, ", ")))
			}
			return nil
		},
	}
}
