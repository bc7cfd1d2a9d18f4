package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"chatbridge/handler"
	"chatbridge/internal/app"
	"chatbridge/internal/config"
	"chatbridge/internal/logsink"
	"chatbridge/internal/tokens"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ---- Configuration ----
	settings, err := config.LoadSettings(mustEnv("CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		os.Exit(1)
	}
	current := settings.Get()
	if err := current.Validate(); err != nil {
		slog.Error("invalid settings", "err", err)
		os.Exit(1)
	}

	// ---- AWS clients ----
	aws, err := app.LoadAWS(ctx, current)
	if err != nil {
		slog.Error("failed to create AWS clients", "err", err)
		os.Exit(1)
	}

	// ---- Pipeline ----
	deps := app.Deps{Sink: logsink.NewSlog(logger), Tokens: tokens.NewCounter()}
	if aws.Ledger != nil {
		deps.Ledger = aws.Ledger
	}
	pipeline, err := app.NewPipeline(deps)
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(pipeline.Generator, pipeline.Exporter, settings.Get, aws.Secrets)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
