// Package console renders proxy traffic for a human and reads interactive
// input lines.
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"kafka-proxy-client/internal/envelope"
	"kafka-proxy-client/internal/sse"
)

var (
	inboundStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	kindStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	problemStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

// Printer writes one block per call; concurrent calls never interleave.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styled bool
}

// NewPrinter styles output only when out is a color-capable terminal.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styled: termenv.NewOutput(out).Profile != termenv.Ascii}
}

// SetOutput moves later output to w, e.g. the prompt's stdout so lines are
// printed above the input line.
func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

func (p *Printer) writeLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

// Message prints an inbound envelope. message and ack frames are indented,
// everything else stays on one line.
func (p *Printer) Message(env *envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		p.Problem("cannot render frame: %v", err)
		return
	}
	arrow := p.render(inboundStyle, "←")
	if env.Is(envelope.TypeMessage, envelope.TypeAck) {
		var indented bytes.Buffer
		if json.Indent(&indented, data, "", "  ") == nil {
			p.writeLine(arrow + " " + p.render(kindStyle, env.Type()) + ": " + indented.String())
			return
		}
	}
	p.writeLine(arrow + " " + string(data))
}

// Event prints one push-stream event.
func (p *Printer) Event(event sse.Event) {
	p.writeLine(p.render(inboundStyle, "←") + " [" + p.render(kindStyle, event.Name) + "] " + event.Data)
}

func (p *Printer) Notice(format string, args ...any) {
	p.writeLine(p.render(okStyle, "✓") + " " + fmt.Sprintf(format, args...))
}

func (p *Printer) Problem(format string, args ...any) {
	p.writeLine(p.render(problemStyle, "!") + " " + fmt.Sprintf(format, args...))
}
