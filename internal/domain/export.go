package domain

import (
	"strings"
	"time"
)

// ExportTarget tags which document store receives a transcript.
type ExportTarget string

const (
	ExportNotion ExportTarget = "Notion"
	ExportFeishu ExportTarget = "Feishu"
)

// ParseExportTarget matches s case-insensitively against the known targets.
func ParseExportTarget(s string) (ExportTarget, bool) {
	for _, t := range []ExportTarget{ExportNotion, ExportFeishu} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, true
		}
	}
	return "", false
}

// NotionCredentials addresses a Notion database through an integration token.
type NotionCredentials struct {
	Token      string `mapstructure:"token" json:"token"`
	DatabaseID string `mapstructure:"database_id" json:"databaseId"`
}

// FeishuCredentials addresses a Feishu wiki node through a custom app.
type FeishuCredentials struct {
	AppID         string `mapstructure:"app_id" json:"appId"`
	AppSecret     string `mapstructure:"app_secret" json:"appSecret"`
	WikiNodeToken string `mapstructure:"wiki_node_token" json:"wikiNodeToken"`
}

// ExportConfig selects a target and carries the credentials of every target.
type ExportConfig struct {
	Target ExportTarget      `mapstructure:"target" json:"target"`
	Notion NotionCredentials `mapstructure:"notion" json:"notion"`
	Feishu FeishuCredentials `mapstructure:"feishu" json:"feishu"`
}

// ExportJob is a self-contained snapshot of one export request.
type ExportJob struct {
	Target       ExportTarget
	Notion       NotionCredentials
	Feishu       FeishuCredentials
	Transcript   []Message
	SystemPrompt string
}

// NewExportJob copies transcript so later edits of the live conversation
// cannot reach an export in flight.
func NewExportJob(target ExportTarget, notion NotionCredentials, feishu FeishuCredentials, transcript []Message, systemPrompt string) ExportJob {
	return ExportJob{
		Target:       target,
		Notion:       notion,
		Feishu:       feishu,
		Transcript:   CloneMessages(transcript),
		SystemPrompt: systemPrompt,
	}
}

// ExportResult identifies the document an export produced.
type ExportResult struct {
	Target     ExportTarget `json:"target"`
	DocumentID string       `json:"documentId"`
	Blocks     int          `json:"blocks"`
}

// ExportRecord is one completed export as kept in the export ledger.
type ExportRecord struct {
	Target     ExportTarget
	DocumentID string
	Messages   int
	Blocks     int
	ExportedAt time.Time
}
