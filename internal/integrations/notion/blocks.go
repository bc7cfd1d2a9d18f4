package notion

import (
	"strings"

	"chatbridge/internal/domain"
)

// maxBlockRunes is Notion's per rich-text content ceiling.
const maxBlockRunes = 2000

// Block is a Notion block object. Only one of the typed payloads is set.
type Block struct {
	Object    string     `json:"object"`
	Type      string     `json:"type"`
	Callout   *callout   `json:"callout,omitempty"`
	Paragraph *paragraph `json:"paragraph,omitempty"`
}

type callout struct {
	Icon     icon       `json:"icon"`
	Color    string     `json:"color"`
	RichText []richText `json:"rich_text"`
}

type paragraph struct {
	RichText []richText `json:"rich_text"`
}

type icon struct {
	Emoji string `json:"emoji"`
}

type richText struct {
	Type        string       `json:"type"`
	Text        textContent  `json:"text"`
	Annotations *annotations `json:"annotations,omitempty"`
}

type textContent struct {
	Content string `json:"content"`
}

type annotations struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
}

func plainText(s string) richText {
	return richText{Type: "text", Text: textContent{Content: s}}
}

// Text returns the concatenated rich text of the block.
func (b Block) Text() string {
	var parts []richText
	switch {
	case b.Callout != nil:
		parts = b.Callout.RichText
	case b.Paragraph != nil:
		parts = b.Paragraph.RichText
	}
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text.Content)
	}
	return sb.String()
}

// BuildBlocks lays out the system prompt and every message as callouts.
// Text beyond the per-block ceiling continues in paragraphs that follow.
func BuildBlocks(systemPrompt string, transcript []domain.Message) []Block {
	var blocks []Block

	if strings.TrimSpace(systemPrompt) != "" {
		chunks := splitText(systemPrompt)
		blocks = append(blocks, Block{
			Object: "block",
			Type:   "callout",
			Callout: &callout{
				Icon:  icon{Emoji: "⚙️"},
				Color: "gray_background",
				RichText: []richText{
					{Type: "text", Text: textContent{Content: "System Prompt:\n"}, Annotations: &annotations{Bold: true}},
					plainText(chunks[0]),
				},
			},
		})
		blocks = append(blocks, overflowParagraphs(chunks)...)
	}

	for _, m := range transcript {
		chunks := splitText(m.Content)
		emoji, color := roleStyle(m.Role)
		blocks = append(blocks, Block{
			Object: "block",
			Type:   "callout",
			Callout: &callout{
				Icon:     icon{Emoji: emoji},
				Color:    color,
				RichText: []richText{plainText(chunks[0])},
			},
		})
		blocks = append(blocks, overflowParagraphs(chunks)...)

		if len(m.Attachments) > 0 {
			names := make([]string, len(m.Attachments))
			for i, att := range m.Attachments {
				names[i] = att.Name
			}
			blocks = append(blocks, Block{
				Object: "block",
				Type:   "paragraph",
				Paragraph: &paragraph{RichText: []richText{{
					Type:        "text",
					Text:        textContent{Content: "[Attachments: " + strings.Join(names, ", ") + "]"},
					Annotations: &annotations{Italic: true},
				}}},
			})
		}
	}
	return blocks
}

func roleStyle(r domain.Role) (emoji, color string) {
	switch r {
	case domain.RoleUser:
		return "👤", "blue_background"
	case domain.RoleSystem:
		return "⚠️", "red_background"
	default:
		return "🤖", "gray_background"
	}
}

func overflowParagraphs(chunks []string) []Block {
	var out []Block
	for _, c := range chunks[1:] {
		out = append(out, Block{
			Object:    "block",
			Type:      "paragraph",
			Paragraph: &paragraph{RichText: []richText{plainText(c)}},
		})
	}
	return out
}

// splitText cuts s into pieces of at most maxBlockRunes runes. Empty text
// yields a single space so every callout carries content.
func splitText(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{" "}
	}
	var chunks []string
	for i := 0; i < len(runes); i += maxBlockRunes {
		chunks = append(chunks, string(runes[i:min(i+maxBlockRunes, len(runes))]))
	}
	return chunks
}
