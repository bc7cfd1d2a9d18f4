// Package prompt expands template strings against keyed arguments.
package prompt

import (
	"regexp"
	"strings"

	"chatbridge/internal/domain"
)

// MessagePlaceholder marks where the user's text goes in a user-message template.
const MessagePlaceholder = "{message}"

// A placeholder key is any run of characters other than braces and whitespace,
// so {my-key} and {a.b} count as well as {tone}.
var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Argument is one key/value binding for a template.
type Argument struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

// Resolve substitutes every {key} placeholder in template with its value.
//
// Arguments are applied in order. Keys are trimmed; blank keys are skipped and
// the first binding of a key wins, later duplicates are ignored. Values are
// inserted literally in a single pass, so a value that itself looks like a
// placeholder is never expanded.
func Resolve(template string, args []Argument) string {
	values := make(map[string]string, len(args))
	var keys []string
	for _, arg := range args {
		key := strings.TrimSpace(arg.Key)
		if key == "" {
			continue
		}
		if _, ok := values[key]; ok {
			continue
		}
		values[key] = arg.Value
		keys = append(keys, regexp.QuoteMeta(key))
	}
	if len(keys) == 0 {
		return template
	}
	// Both braces are part of the match, so {tone} never matches inside
	// {tonexyz}.
	re := regexp.MustCompile(`\{(` + strings.Join(keys, "|") + `)\}`)
	return re.ReplaceAllStringFunc(template, func(match string) string {
		return values[match[1:len(match)-1]]
	})
}

// FindPlaceholders returns the distinct placeholder keys of template in order
// of first appearance.
func FindPlaceholders(template string) []string {
	var keys []string
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}

// FindMissing returns the placeholders of template that no argument binds.
func FindMissing(template string, args []Argument) []string {
	bound := make(map[string]struct{}, len(args))
	for _, arg := range args {
		if key := strings.TrimSpace(arg.Key); key != "" {
			bound[key] = struct{}{}
		}
	}
	var missing []string
	for _, key := range FindPlaceholders(template) {
		if _, ok := bound[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// ValidateUserTemplate checks that template carries the {message} placeholder.
func ValidateUserTemplate(template string) error {
	if !strings.Contains(template, MessagePlaceholder) {
		return domain.ConfigError("user prompt template must contain %s", MessagePlaceholder)
	}
	return nil
}

// ApplyUserTemplate places text at the first {message} of template.
func ApplyUserTemplate(template, text string) (string, error) {
	if err := ValidateUserTemplate(template); err != nil {
		return "", err
	}
	return strings.Replace(template, MessagePlaceholder, text, 1), nil
}
