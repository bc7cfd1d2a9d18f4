package config

import (
	"context"
	"fmt"
	"strings"

	"chatbridge/internal/domain"
	"chatbridge/internal/prompt"
	"chatbridge/internal/usecase"
)

// EnvPrefix prefixes environment overrides, e.g. CHATBRIDGE_PROVIDERS_OPENAI_API_KEY.
const EnvPrefix = "CHATBRIDGE"

const (
	DefaultSystemPrompt = "You are a helpful assistant. Use {tone} tone and answer in {language}."
	DefaultUserPrompt   = prompt.MessagePlaceholder
)

// Settings is the whole configuration file.
type Settings struct {
	CurrentProvider string                      `mapstructure:"current_provider" json:"currentProvider"`
	SystemPrompt    SystemPrompt                `mapstructure:"system_prompt" json:"systemPrompt"`
	UserPrompt      UserPrompt                  `mapstructure:"user_prompt" json:"userPrompt"`
	Providers       map[string]ProviderSettings `mapstructure:"providers" json:"providers"`
	Export          domain.ExportConfig         `mapstructure:"export" json:"export"`
	Ledger          Ledger                      `mapstructure:"ledger" json:"ledger"`
}

type SystemPrompt struct {
	Template  string            `mapstructure:"template" json:"template"`
	Arguments []prompt.Argument `mapstructure:"arguments" json:"arguments"`
}

type UserPrompt struct {
	Template string `mapstructure:"template" json:"template"`
}

// ProviderSettings configures one backend. APIKey may be an "ssm:" reference.
type ProviderSettings struct {
	ModelName string `mapstructure:"model_name" json:"modelName"`
	APIKey    string `mapstructure:"api_key" json:"apiKey"`
	BaseURL   string `mapstructure:"base_url" json:"baseUrl"`
}

// Ledger names the DynamoDB table recording exports; empty disables it.
type Ledger struct {
	Table string `mapstructure:"table" json:"table"`
}

// SecretResolver expands secret references such as "ssm:/chat/key".
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// providerDefaults are the endpoints and models used when a provider section
// leaves them blank.
var providerDefaults = map[domain.ProviderKind]ProviderSettings{
	domain.ProviderGemini:     {ModelName: "gemini-3-flash-preview"},
	domain.ProviderOpenAI:     {ModelName: "gpt-4o", BaseURL: "https://api.openai.com/v1"},
	domain.ProviderVolcengine: {BaseURL: "https://ark.cn-beijing.volces.com/api/v3"},
	domain.ProviderAliyun:     {ModelName: "qwen-plus", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
}

// Defaults returns the viper defaults for Settings. Every provider key is
// registered so environment overrides reach it.
func Defaults() map[string]any {
	d := map[string]any{
		"current_provider":       string(domain.ProviderGemini),
		"system_prompt.template": DefaultSystemPrompt,
		"system_prompt.arguments": []map[string]any{
			{"key": "tone", "value": "professional"},
			{"key": "language", "value": "Chinese"},
		},
		"user_prompt.template":          DefaultUserPrompt,
		"export.target":                 string(domain.ExportNotion),
		"export.notion.token":           "",
		"export.notion.database_id":     "",
		"export.feishu.app_id":          "",
		"export.feishu.app_secret":      "",
		"export.feishu.wiki_node_token": "",
		"ledger.table":                  "",
	}
	for kind, p := range providerDefaults {
		key := "providers." + providerKey(kind)
		d[key+".model_name"] = p.ModelName
		d[key+".base_url"] = p.BaseURL
		d[key+".api_key"] = ""
	}
	return d
}

// LoadSettings reads the settings file at path with defaults and env overrides.
func LoadSettings(path string) (*Config[Settings], error) {
	return Load(path, WithDefaults[Settings](Defaults()), WithEnv[Settings](EnvPrefix))
}

// viper lower-cases map keys.
func providerKey(kind domain.ProviderKind) string {
	return strings.ToLower(string(kind))
}

// Provider returns the current provider kind.
func (s Settings) Provider() (domain.ProviderKind, error) {
	kind, ok := domain.ParseProviderKind(s.CurrentProvider)
	if !ok {
		return "", domain.ConfigError("unknown provider %q", s.CurrentProvider)
	}
	return kind, nil
}

// ProviderSettings returns the settings of kind with blank fields defaulted.
func (s Settings) ProviderSettings(kind domain.ProviderKind) ProviderSettings {
	p := s.Providers[providerKey(kind)]
	def := providerDefaults[kind]
	if strings.TrimSpace(p.ModelName) == "" {
		p.ModelName = def.ModelName
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		p.BaseURL = def.BaseURL
	}
	return p
}

// ResolvedSystemPrompt substitutes the system prompt arguments.
func (s Settings) ResolvedSystemPrompt() string {
	return prompt.Resolve(s.SystemPrompt.Template, s.SystemPrompt.Arguments)
}

// MissingArguments lists system prompt placeholders with no argument.
func (s Settings) MissingArguments() []string {
	return prompt.FindMissing(s.SystemPrompt.Template, s.SystemPrompt.Arguments)
}

func (s Settings) userTemplate() string {
	if s.UserPrompt.Template == "" {
		return DefaultUserPrompt
	}
	return s.UserPrompt.Template
}

// Validate checks the settings that can be checked without a network call.
func (s Settings) Validate() error {
	if _, err := s.Provider(); err != nil {
		return err
	}
	if err := prompt.ValidateUserTemplate(s.userTemplate()); err != nil {
		return err
	}
	if s.Export.Target != "" {
		if _, ok := domain.ParseExportTarget(string(s.Export.Target)); !ok {
			return domain.ConfigError("unknown export target %q", s.Export.Target)
		}
	}
	return nil
}

// GenerateInput builds the per-call input for text typed by the user. The
// user template wraps text and secret references are resolved.
func (s Settings) GenerateInput(ctx context.Context, secrets SecretResolver, text string, attachments []domain.Attachment) (usecase.GenerateInput, error) {
	kind, err := s.Provider()
	if err != nil {
		return usecase.GenerateInput{}, err
	}
	content, err := prompt.ApplyUserTemplate(s.userTemplate(), text)
	if err != nil {
		return usecase.GenerateInput{}, err
	}
	p := s.ProviderSettings(kind)
	key, err := resolve(ctx, secrets, p.APIKey)
	if err != nil {
		return usecase.GenerateInput{}, fmt.Errorf("resolve %s api key: %w", kind, err)
	}

	return usecase.GenerateInput{
		Provider:          kind,
		Credentials:       domain.Credentials{APIKey: key},
		Model:             p.ModelName,
		BaseURL:           p.BaseURL,
		SystemInstruction: s.ResolvedSystemPrompt(),
		Text:              content,
		Attachments:       attachments,
	}, nil
}

// ExportConfig returns the export settings with the target normalized and
// secret references resolved.
func (s Settings) ExportConfig(ctx context.Context, secrets SecretResolver) (domain.ExportConfig, error) {
	cfg := s.Export
	if target, ok := domain.ParseExportTarget(string(cfg.Target)); ok {
		cfg.Target = target
	}
	for _, field := range []*string{&cfg.Notion.Token, &cfg.Feishu.AppSecret} {
		v, err := resolve(ctx, secrets, *field)
		if err != nil {
			return domain.ExportConfig{}, fmt.Errorf("resolve export secret: %w", err)
		}
		*field = v
	}
	return cfg, nil
}

func resolve(ctx context.Context, secrets SecretResolver, value string) (string, error) {
	if secrets == nil {
		return value, nil
	}
	return secrets.Resolve(ctx, value)
}
