package cli

import (
	"io"
	"maps"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/touchfish-chat/pkg/protocol"
)

// Theme variables a stylesheet may set.
const (
	varSystemColor    = "system-color"
	varBroadcastColor = "broadcast-color"
	varHintColor      = "hint-color"
	varNameColor      = "name-color"
	varErrorColor     = "error-color"
	varProgressColor  = "progress-color"
)

var defaultPalette = map[string]string{
	varSystemColor:    "244",
	varBroadcastColor: "214",
	varHintColor:      "69",
	varNameColor:      "42",
	varErrorColor:     "203",
	varProgressColor:  "245",
}

type styles struct {
	System    lipgloss.Style
	Broadcast lipgloss.Style
	Hint      lipgloss.Style
	Name      lipgloss.Style
	Error     lipgloss.Style
	Progress  lipgloss.Style
}

// newStyles builds the palette for out, with overrides taking precedence
// over the defaults.
func newStyles(out io.Writer, overrides map[string]string) styles {
	palette := maps.Clone(defaultPalette)
	maps.Copy(palette, overrides)

	r := lipgloss.NewRenderer(out)
	color := func(name string) lipgloss.Color { return lipgloss.Color(palette[name]) }
	return styles{
		System:    r.NewStyle().Foreground(color(varSystemColor)).Italic(true),
		Broadcast: r.NewStyle().Foreground(color(varBroadcastColor)).Bold(true),
		Hint:      r.NewStyle().Foreground(color(varHintColor)),
		Name:      r.NewStyle().Foreground(color(varNameColor)).Bold(true),
		Error:     r.NewStyle().Foreground(color(varErrorColor)),
		Progress:  r.NewStyle().Foreground(color(varProgressColor)),
	}
}

// chatLine renders one classified chat line.
func (s styles) chatLine(kind protocol.ChatKind, text string) string {
	switch kind {
	case protocol.ChatSystem:
		return s.System.Render("* " + text)
	case protocol.ChatBroadcast:
		return s.Broadcast.Render("! " + text)
	case protocol.ChatHint:
		return s.Hint.Render(text)
	}
	if name, content, ok := protocol.SplitSender(text); ok {
		return s.Name.Render(name) + ": " + content
	}
	return text
}

var cssVar = regexp.MustCompile(`--([A-Za-z0-9-]+)\s*:\s*([^;}]+)`)

// parseThemeVars extracts the custom properties of a stylesheet that name a
// known theme variable.
func parseThemeVars(css string) map[string]string {
	vars := make(map[string]string)
	for _, m := range cssVar.FindAllStringSubmatch(css, -1) {
		name := strings.ToLower(m[1])
		if _, ok := defaultPalette[name]; !ok {
			continue
		}
		vars[name] = strings.TrimSpace(m[2])
	}
	return vars
}
