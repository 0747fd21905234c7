package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var forceLipglossColorOnce sync.Once

func ensureLipglossColorOutput() {
	forceLipglossColorOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.TrueColor)
	})
}

// TerminalSupportsColor reports whether stderr should get colored output.
func TerminalSupportsColor() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.NewOutput(os.Stderr).Profile != termenv.Ascii
}

var (
	timeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	messageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	keyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	sepStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// FormatEventANSI renders one event with terminal colors. JSON-shaped field
// values are expanded into bordered blocks below the header line.
func FormatEventANSI(event Event) string {
	ensureLipglossColorOutput()
	levelLabel, levelStyle := levelBadge(event.Level)
	parts := []string{timeStyle.Render(event.Time.Format("15:04:05.000")), " ", levelStyle.Render(levelLabel), " "}
	if event.Component != "" {
		parts = append(parts, componentStyle.Render(event.Component), " ")
	}
	parts = append(parts, messageStyle.Render(event.Message))
	line := lipgloss.JoinHorizontal(lipgloss.Center, parts...)
	if len(event.Fields) == 0 {
		return line + "\n"
	}

	keys := orderedFieldKeys(event.Fields)
	inline := make([]string, 0, len(keys))
	blocks := make([]string, 0, len(keys))
	for _, key := range keys {
		if pretty, ok := prettyJSONString(event.Fields[key]); ok {
			blocks = append(blocks, renderJSONFieldBlock(key, pretty))
			continue
		}
		inline = append(inline, keyStyle.Render(key)+sepStyle.Render("=")+valueStyle.Render(formatFieldValue(event.Fields[key])))
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n  " + block
	}
	return line + "\n"
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}

func renderJSONFieldBlock(key string, pretty string) string {
	header := keyStyle.Render(key) + sepStyle.Render("=")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("245")).
		Padding(0, 1).
		Render(pretty)
	return header + "\n" + box
}
