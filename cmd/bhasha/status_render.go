package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"bhasha/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

// statusPage collects the sections printed by `bhasha status`.
type statusPage struct {
	colorize bool
	lines    []string
}

func newStatusPage(colorize bool) *statusPage {
	return &statusPage{colorize: colorize}
}

func (p *statusPage) section(title string) {
	if len(p.lines) > 0 {
		p.lines = append(p.lines, "")
	}
	header := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(header))
	p.lines = append(p.lines, p.paint(ansiBlue, header), p.paint(ansiBlue, rule))
}

func (p *statusPage) row(label string, kind statusKind, message string) {
	p.lines = append(p.lines, renderStatusLine(label, kind, message, p.colorize))
}

// checks adds preflight results. A failed directory check is an error since
// nothing can be stored; an unreachable API only degrades one feature.
func (p *statusPage) checks(results []preflight.Result) {
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusWarn
			if strings.HasSuffix(r.Name, "directory") {
				kind = statusError
			}
		}
		p.row(r.Name, kind, r.Detail)
	}
}

func (p *statusPage) paint(color, text string) string {
	if !p.colorize {
		return text
	}
	return color + text + ansiReset
}

func (p *statusPage) writeTo(w io.Writer) error {
	for _, line := range p.lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	text := "[" + style.label + "]"
	if message != "" {
		text += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
