// Package cli implements the chatbridge command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatbridge/internal/app"
	"chatbridge/internal/config"
	"chatbridge/internal/logsink"
	"chatbridge/internal/repository"
	"chatbridge/internal/tokens"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
}

// runtime is what a subcommand needs once settings are loaded.
type runtime struct {
	settings *config.Config[config.Settings]
	pipeline *app.Pipeline
	secrets  config.SecretResolver
	ledger   *repository.Client
	sink     logsink.Sink
	log      *logsink.Recorder
}

// NewRootCommand builds the command tree reading from in and writing to out.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chatbridge",
		Short:         "Chat with LLM providers and export transcripts to Notion or Feishu",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "settings file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log requests and responses to stderr")

	root.AddCommand(
		newChatCommand(opts),
		newPromptCommand(opts),
		newExportCommand(opts),
		newExportsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatbridge.yaml"
	}
	return filepath.Join(dir, "chatbridge", "config.yaml")
}

// loadSettings reads and validates the settings file.
func loadSettings(opts *options) (*config.Config[config.Settings], error) {
	cfg, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", opts.configPath, err)
	}
	if err := cfg.Get().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads settings and assembles the pipeline. AWS clients are created
// only when the settings reference SSM parameters or a ledger table.
func setup(ctx context.Context, cmd *cobra.Command, opts *options) (*runtime, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	rt := &runtime{settings: cfg, log: logsink.NewRecorder()}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	rt.sink = logsink.Multi{logsink.NewSlog(logger), rt.log}
	deps := app.Deps{
		Sink:   rt.sink,
		Tokens: tokens.NewCounter(),
	}

	current := cfg.Get()
	if app.NeedsAWS(current) {
		aws, err := app.LoadAWS(ctx, current)
		if err != nil {
			return nil, err
		}
		rt.secrets = aws.Secrets
		if aws.Ledger != nil {
			rt.ledger = aws.Ledger
			deps.Ledger = aws.Ledger
		}
	}

	rt.pipeline, err = app.NewPipeline(deps)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
