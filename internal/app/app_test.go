package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
	"chatbridge/internal/usecase"
)

func TestNewPipelineRegistersEveryKind(t *testing.T) {
	p, err := NewPipeline(Deps{Sink: logsink.NewRecorder()})
	require.NoError(t, err)
	require.NotNil(t, p.Generator)
	require.NotNil(t, p.Exporter)

	// A missing key fails inside the provider rather than at dispatch.
	for _, kind := range domain.ProviderKinds {
		_, err := p.Generator.Complete(context.Background(), domain.NewConversation(), usecaseInput(kind))
		require.Error(t, err)
		require.NotContains(t, err.Error(), "not supported")
		k, _ := domain.KindOf(err)
		require.Equal(t, domain.ErrorConfiguration, k)
	}
}

func TestExportDispatchReachesTargets(t *testing.T) {
	p, err := NewPipeline(Deps{})
	require.NoError(t, err)

	_, err = p.Exporter.ExportChatHistory(context.Background(), domain.ExportConfig{
		Target: domain.ExportNotion,
		Notion: domain.NotionCredentials{DatabaseID: "db"},
	}, nil, "")
	require.ErrorContains(t, err, "token")

	_, err = p.Exporter.ExportChatHistory(context.Background(), domain.ExportConfig{
		Target: domain.ExportFeishu,
		Feishu: domain.FeishuCredentials{AppID: "cli"},
	}, nil, "")
	require.ErrorContains(t, err, "App Secret")
}

func TestNeedsAWS(t *testing.T) {
	require.False(t, NeedsAWS(config.Settings{}))
	require.True(t, NeedsAWS(config.Settings{Ledger: config.Ledger{Table: "exports"}}))
	require.True(t, NeedsAWS(config.Settings{Providers: map[string]config.ProviderSettings{
		"openai": {APIKey: "ssm:/chat/openai"},
	}}))
	require.True(t, NeedsAWS(config.Settings{Export: domain.ExportConfig{
		Notion: domain.NotionCredentials{Token: "ssm:/chat/notion"},
	}}))
}

func usecaseInput(kind domain.ProviderKind) usecase.GenerateInput {
	return usecase.GenerateInput{Provider: kind, Model: "m", BaseURL: "http://127.0.0.1:1", Text: "hi"}
}
