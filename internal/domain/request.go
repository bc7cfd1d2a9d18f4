package domain

import "strings"

// ProviderKind tags which backend serves a generation.
type ProviderKind string

const (
	ProviderGemini     ProviderKind = "Gemini"
	ProviderOpenAI     ProviderKind = "OpenAI"
	ProviderVolcengine ProviderKind = "Volcengine"
	ProviderAliyun     ProviderKind = "Aliyun"
)

// ProviderKinds lists every supported provider in display order.
var ProviderKinds = []ProviderKind{ProviderGemini, ProviderOpenAI, ProviderVolcengine, ProviderAliyun}

// RequiresBaseURL reports whether the provider needs an explicit endpoint.
// The Gemini SDK embeds its own.
func (k ProviderKind) RequiresBaseURL() bool {
	return k != ProviderGemini
}

// ParseProviderKind matches s case-insensitively against the known kinds.
func ParseProviderKind(s string) (ProviderKind, bool) {
	for _, k := range ProviderKinds {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, true
		}
	}
	return "", false
}

// Credentials holds the single credential set of a provider.
type Credentials struct {
	APIKey string
}

// ResolvedRequest is everything a provider needs for one generation. It is
// built fresh per call and never mutated afterwards.
type ResolvedRequest struct {
	Provider          ProviderKind
	Credentials       Credentials
	Model             string
	SystemInstruction string
	BaseURL           string
	History           []Message
}

// RedactedKey returns the first three characters of key followed by an ellipsis.
func RedactedKey(key string) string {
	if len(key) <= 3 {
		return "..."
	}
	return key[:3] + "..."
}
