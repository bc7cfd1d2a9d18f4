package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
)

type stubExporter struct {
	result domain.ExportResult
	err    error
	jobs   []domain.ExportJob
}

func (s *stubExporter) Export(_ context.Context, job domain.ExportJob) (domain.ExportResult, error) {
	s.jobs = append(s.jobs, job)
	return s.result, s.err
}

type stubLedger struct {
	records []domain.ExportRecord
	err     error
}

func (l *stubLedger) RecordExport(_ context.Context, rec domain.ExportRecord) error {
	l.records = append(l.records, rec)
	return l.err
}

func notionConfig() domain.ExportConfig {
	return domain.ExportConfig{
		Target: domain.ExportNotion,
		Notion: domain.NotionCredentials{Token: "secret_x", DatabaseID: "db-1"},
	}
}

func TestNewExportService_RequiresExporters(t *testing.T) {
	_, err := NewExportService(nil)
	require.Error(t, err)
}

func TestExportChatHistory_DispatchesByTarget(t *testing.T) {
	notion := &stubExporter{result: domain.ExportResult{Target: domain.ExportNotion, DocumentID: "page-1", Blocks: 3}}
	feishu := &stubExporter{}
	svc, err := NewExportService(ExporterSet{domain.ExportNotion: notion, domain.ExportFeishu: feishu})
	require.NoError(t, err)

	transcript := []domain.Message{{ID: "1", Role: domain.RoleUser, Content: "hi"}}
	res, err := svc.ExportChatHistory(context.Background(), notionConfig(), transcript, "sys")
	require.NoError(t, err)
	require.Equal(t, "page-1", res.DocumentID)

	require.Len(t, notion.jobs, 1)
	require.Empty(t, feishu.jobs)
	require.Equal(t, "sys", notion.jobs[0].SystemPrompt)
	require.Equal(t, "db-1", notion.jobs[0].Notion.DatabaseID)
}

func TestExportChatHistory_JobIsSnapshot(t *testing.T) {
	exporter := &stubExporter{}
	svc, err := NewExportService(ExporterSet{domain.ExportNotion: exporter})
	require.NoError(t, err)

	transcript := []domain.Message{{ID: "1", Content: "original"}}
	_, err = svc.ExportChatHistory(context.Background(), notionConfig(), transcript, "")
	require.NoError(t, err)
	transcript[0].Content = "edited"

	require.Equal(t, "original", exporter.jobs[0].Transcript[0].Content)
}

func TestExportChatHistory_MissingFieldsFailFast(t *testing.T) {
	exporter := &stubExporter{}
	svc, err := NewExportService(ExporterSet{domain.ExportNotion: exporter, domain.ExportFeishu: exporter})
	require.NoError(t, err)

	_, err = svc.ExportChatHistory(context.Background(), domain.ExportConfig{Target: domain.ExportNotion}, nil, "")
	require.EqualError(t, err, "Notion Database ID is missing")

	_, err = svc.ExportChatHistory(context.Background(), domain.ExportConfig{Target: domain.ExportFeishu}, nil, "")
	require.EqualError(t, err, "Feishu App ID is missing")

	require.Empty(t, exporter.jobs)
}

func TestExportChatHistory_UnsupportedTarget(t *testing.T) {
	svc, err := NewExportService(ExporterSet{domain.ExportNotion: &stubExporter{}})
	require.NoError(t, err)
	_, err = svc.ExportChatHistory(context.Background(), domain.ExportConfig{Target: "Confluence"}, nil, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported export target")
}

func TestExportChatHistory_FailureLogged(t *testing.T) {
	rec := logsink.NewRecorder()
	ledger := &stubLedger{}
	svc, err := NewExportService(
		ExporterSet{domain.ExportNotion: &stubExporter{err: errors.New("Notion API Append Error (500)")}},
		WithExportSink(rec),
		WithLedger(ledger),
	)
	require.NoError(t, err)

	_, err = svc.ExportChatHistory(context.Background(), notionConfig(), nil, "")
	require.Error(t, err)

	entries := rec.Entries()
	require.Equal(t, "Starting export to Notion", entries[0].Summary)
	last := entries[len(entries)-1]
	require.Equal(t, logsink.Error, last.Category)
	require.Equal(t, "Export Failed", last.Summary)
	require.Empty(t, ledger.records, "failed exports are not recorded")
}

func TestExportChatHistory_RecordsLedger(t *testing.T) {
	ledger := &stubLedger{}
	svc, err := NewExportService(
		ExporterSet{domain.ExportNotion: &stubExporter{result: domain.ExportResult{DocumentID: "page-9", Blocks: 4}}},
		WithLedger(ledger),
	)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	transcript := []domain.Message{{ID: "1"}, {ID: "2"}}
	_, err = svc.ExportChatHistory(context.Background(), notionConfig(), transcript, "")
	require.NoError(t, err)

	require.Equal(t, []domain.ExportRecord{{
		Target:     domain.ExportNotion,
		DocumentID: "page-9",
		Messages:   2,
		Blocks:     4,
		ExportedAt: fixed,
	}}, ledger.records)
}

func TestExportChatHistory_LedgerFailureDoesNotFailExport(t *testing.T) {
	rec := logsink.NewRecorder()
	svc, err := NewExportService(
		ExporterSet{domain.ExportNotion: &stubExporter{result: domain.ExportResult{DocumentID: "p"}}},
		WithLedger(&stubLedger{err: errors.New("throttled")}),
		WithExportSink(rec),
	)
	require.NoError(t, err)

	res, err := svc.ExportChatHistory(context.Background(), notionConfig(), nil, "")
	require.NoError(t, err)
	require.Equal(t, "p", res.DocumentID)

	entries := rec.Entries()
	require.Equal(t, "Export ledger write failed", entries[len(entries)-1].Summary)
}
