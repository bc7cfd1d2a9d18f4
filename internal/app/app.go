// Package app wires the providers, exporters and AWS-backed services shared
// by the CLI and the Lambda entry point.
package app

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/integrations/feishu"
	"chatbridge/internal/integrations/gemini"
	"chatbridge/internal/integrations/notion"
	"chatbridge/internal/integrations/openai"
	"chatbridge/internal/integrations/paramstore"
	"chatbridge/internal/logsink"
	"chatbridge/internal/repository"
	"chatbridge/internal/usecase"
)

// Pipeline is the assembled generation and export services.
type Pipeline struct {
	Generator *usecase.Orchestrator
	Exporter  *usecase.ExportService
}

// Deps are the optional collaborators of a Pipeline.
type Deps struct {
	Sink   logsink.Sink
	Ledger usecase.LedgerWriter
	Tokens usecase.TokenCounter
}

// NewPipeline registers every provider kind and export target.
func NewPipeline(deps Deps) (*Pipeline, error) {
	compatible := openai.NewClient(openai.WithSink(deps.Sink))
	providers := usecase.ProviderSet{
		domain.ProviderGemini:     gemini.NewClient(gemini.WithSink(deps.Sink)),
		domain.ProviderOpenAI:     compatible,
		domain.ProviderVolcengine: compatible,
		domain.ProviderAliyun:     compatible,
	}
	genOpts := []usecase.OrchestratorOption{usecase.WithGenerationSink(deps.Sink)}
	if deps.Tokens != nil {
		genOpts = append(genOpts, usecase.WithTokenCounter(deps.Tokens))
	}
	generator, err := usecase.NewOrchestrator(providers, genOpts...)
	if err != nil {
		return nil, err
	}

	exporters := usecase.ExporterSet{
		domain.ExportNotion: notion.NewClient(notion.WithSink(deps.Sink)),
		domain.ExportFeishu: feishu.NewClient(feishu.WithSink(deps.Sink)),
	}
	expOpts := []usecase.ExportOption{usecase.WithExportSink(deps.Sink)}
	if deps.Ledger != nil {
		expOpts = append(expOpts, usecase.WithLedger(deps.Ledger))
	}
	exporter, err := usecase.NewExportService(exporters, expOpts...)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Generator: generator, Exporter: exporter}, nil
}

// AWS holds the clients backed by the AWS SDK. Ledger is nil when no table is
// configured.
type AWS struct {
	Secrets *paramstore.Resolver
	Ledger  *repository.Client
}

// NeedsAWS reports whether s references SSM parameters or a ledger table.
func NeedsAWS(s config.Settings) bool {
	if strings.TrimSpace(s.Ledger.Table) != "" {
		return true
	}
	refs := []string{s.Export.Notion.Token, s.Export.Feishu.AppSecret}
	for _, p := range s.Providers {
		refs = append(refs, p.APIKey)
	}
	for _, r := range refs {
		if paramstore.IsRef(r) {
			return true
		}
	}
	return false
}

// LoadAWS builds the SSM resolver and, when s names a table, the export ledger.
func LoadAWS(ctx context.Context, s config.Settings) (*AWS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	out := &AWS{Secrets: paramstore.NewResolver(ssmClient)}

	if table := strings.TrimSpace(s.Ledger.Table); table != "" {
		out.Ledger, err = repository.New(awsdynamodb.NewFromConfig(cfg), table)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
