package feishu

import (
	"strings"

	"chatbridge/internal/domain"
)

// Docx block types.
const (
	blockText     = 2
	blockHeading1 = 3
	blockHeading3 = 5
)

// Block is a docx child block. Exactly one of the payload fields is set,
// matching BlockType.
type Block struct {
	BlockType int       `json:"block_type"`
	Text      *textBody `json:"text,omitempty"`
	Heading1  *textBody `json:"heading1,omitempty"`
	Heading3  *textBody `json:"heading3,omitempty"`
}

type textBody struct {
	Elements []element `json:"elements"`
}

type element struct {
	TextRun textRun `json:"text_run"`
}

type textRun struct {
	Content string     `json:"content"`
	Style   *textStyle `json:"text_element_style,omitempty"`
}

type textStyle struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
}

// PlainText returns the block's concatenated content.
func (b Block) PlainText() string {
	body := b.Text
	switch {
	case b.Heading1 != nil:
		body = b.Heading1
	case b.Heading3 != nil:
		body = b.Heading3
	}
	if body == nil {
		return ""
	}
	var sb strings.Builder
	for _, e := range body.Elements {
		sb.WriteString(e.TextRun.Content)
	}
	return sb.String()
}

func run(content string, style *textStyle) *textBody {
	return &textBody{Elements: []element{{TextRun: textRun{Content: content, Style: style}}}}
}

func heading1(s string) Block {
	return Block{BlockType: blockHeading1, Heading1: run(s, &textStyle{Bold: true})}
}

func heading3(s string) Block {
	return Block{BlockType: blockHeading3, Heading3: run(s, &textStyle{Bold: true})}
}

func text(s string) Block {
	return Block{BlockType: blockText, Text: run(s, nil)}
}

func spacer() Block {
	return text(" ")
}

// BuildBlocks lays out the document title, the system prompt and every
// message in transcript order.
func BuildBlocks(title, systemPrompt string, transcript []domain.Message) []Block {
	blocks := []Block{heading1(title)}

	if strings.TrimSpace(systemPrompt) != "" {
		blocks = append(blocks, heading3("⚙️ System Prompt"), text(systemPrompt), spacer())
	}

	for _, m := range transcript {
		blocks = append(blocks, heading3(roleLabel(m.Role)))
		if strings.TrimSpace(m.Content) != "" {
			blocks = append(blocks, text(m.Content))
		}
		if len(m.Attachments) > 0 {
			names := make([]string, len(m.Attachments))
			for i, att := range m.Attachments {
				names[i] = att.Name
			}
			blocks = append(blocks, Block{
				BlockType: blockText,
				Text:      run("[Attachments: "+strings.Join(names, ", ")+"]", &textStyle{Italic: true}),
			})
		}
		blocks = append(blocks, spacer())
	}
	return blocks
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "👤 User"
	case domain.RoleSystem:
		return "⚠️ System"
	default:
		return "🤖 Assistant"
	}
}
