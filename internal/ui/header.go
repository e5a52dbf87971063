package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is a labelled value shown in a header or result box
type Param struct {
	Key   string
	Value string
}

// Header represents a command header with title, command, and parameters.
// Printed before an exchange to show what is about to be sent where.
type Header struct {
	Title   string  // e.g., "DEVICE QUERY"
	Command string  // e.g., "tuyactl get"
	Params  []Param // e.g., Device, Version, Seq, Payload
	Width   int     // Terminal width for responsive rendering
}

// NewHeader creates a new header with the given values
func NewHeader(title, command string, params ...Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := clampWidth(h.Width)

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(h.Params) > 0 {
		dividerWidth := max(width-6, 10) // Account for border and padding
		divider := lipgloss.NewStyle().PaddingLeft(2).Render(RenderHorizontalDivider(dividerWidth, "─"))

		lines := make([]string, 0, len(h.Params))
		for _, p := range h.Params {
			lines = append(lines, HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
		}
		content = lipgloss.JoinVertical(lipgloss.Left, content, divider, strings.Join(lines, "\n"))
	}

	return PanelStyle(width, PrimaryColor).Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
