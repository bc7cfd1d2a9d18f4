package cli

import (
	"github.com/charmbracelet/lipgloss"

	"chatbridge/internal/domain"
)

var (
	userTag = lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	assistantTag = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

func roleTag(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return userTag.Render("you")
	case domain.RoleAssistant:
		return assistantTag.Render("assistant")
	default:
		return systemStyle.Render("system")
	}
}
