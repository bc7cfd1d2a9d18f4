package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
)

// Exporter publishes one transcript snapshot to a document store.
type Exporter interface {
	Export(ctx context.Context, job domain.ExportJob) (domain.ExportResult, error)
}

// ExporterSet dispatches an export target to its implementation.
type ExporterSet map[domain.ExportTarget]Exporter

func (e ExporterSet) For(target domain.ExportTarget) (Exporter, error) {
	exporter, ok := e[target]
	if !ok || exporter == nil {
		return nil, domain.ConfigError("unsupported export target: %s", target)
	}
	return exporter, nil
}

// LedgerWriter records completed exports.
type LedgerWriter interface {
	RecordExport(ctx context.Context, rec domain.ExportRecord) error
}

// ExportService validates export requests and hands them to the exporter of
// the chosen target.
type ExportService struct {
	exporters ExporterSet
	ledger    LedgerWriter
	sink      logsink.Sink
	now       func() time.Time
}

type ExportOption func(*ExportService)

func WithExportSink(sink logsink.Sink) ExportOption {
	return func(s *ExportService) {
		s.sink = sink
	}
}

// WithLedger makes the service record every successful export.
func WithLedger(ledger LedgerWriter) ExportOption {
	return func(s *ExportService) {
		s.ledger = ledger
	}
}

func NewExportService(exporters ExporterSet, opts ...ExportOption) (*ExportService, error) {
	if len(exporters) == 0 {
		return nil, errors.New("usecase: at least one exporter is required")
	}
	s := &ExportService{exporters: exporters, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = logsink.OrNop(s.sink)
	return s, nil
}

// ExportChatHistory publishes transcript together with the resolved system
// prompt. It either returns the created document or an error; partial
// progress is never reported as success.
func (s *ExportService) ExportChatHistory(ctx context.Context, cfg domain.ExportConfig, transcript []domain.Message, systemPrompt string) (domain.ExportResult, error) {
	job := domain.NewExportJob(cfg.Target, cfg.Notion, cfg.Feishu, transcript, systemPrompt)
	s.sink.Log(logsink.Info, fmt.Sprintf("Starting export to %s", job.Target), nil)

	result, err := s.export(ctx, job)
	if err != nil {
		s.sink.Log(logsink.Error, "Export Failed", map[string]any{"message": err.Error()})
		return domain.ExportResult{}, err
	}

	s.sink.Log(logsink.Info, fmt.Sprintf("Export to %s complete", job.Target), map[string]any{
		"documentId": result.DocumentID,
		"blocks":     result.Blocks,
	})
	if s.ledger != nil {
		rec := domain.ExportRecord{
			Target:     job.Target,
			DocumentID: result.DocumentID,
			Messages:   len(job.Transcript),
			Blocks:     result.Blocks,
			ExportedAt: s.now().UTC(),
		}
		if err := s.ledger.RecordExport(ctx, rec); err != nil {
			s.sink.Log(logsink.Error, "Export ledger write failed", map[string]any{"message": err.Error()})
		}
	}
	return result, nil
}

func (s *ExportService) export(ctx context.Context, job domain.ExportJob) (domain.ExportResult, error) {
	switch job.Target {
	case domain.ExportNotion:
		if strings.TrimSpace(job.Notion.DatabaseID) == "" {
			return domain.ExportResult{}, domain.ConfigError("Notion Database ID is missing")
		}
	case domain.ExportFeishu:
		if strings.TrimSpace(job.Feishu.AppID) == "" {
			return domain.ExportResult{}, domain.ConfigError("Feishu App ID is missing")
		}
	}
	exporter, err := s.exporters.For(job.Target)
	if err != nil {
		return domain.ExportResult{}, err
	}
	return exporter.Export(ctx, job)
}
