package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorGreen    = "\033[92m"
	colorRed      = "\033[91m"
)

// termMu serialises all terminal output so log lines never split a report.
var termMu sync.Mutex

// ------------------------------------------------------------
// Utility
// ------------------------------------------------------------

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func colorEnabled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func paint(color, s string) string {
	if !colorEnabled() {
		return s
	}
	return color + s + colorReset
}

// ------------------------------------------------------------
// TermWriter: a mutex-guarded io.Writer for console log output.
// ------------------------------------------------------------

type termWriter struct {
	w io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.w.Write(p)
}

// NewTermWriter returns a writer to stderr that is serialised with Print.
func NewTermWriter() io.Writer {
	return termWriter{w: os.Stderr}
}

// Print writes s to stdout while holding the terminal lock.
func Print(s string) {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Print(s)
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	banner := `
      __                 ____
 ____/ /  ___ _ ____    / __/___   ____ ___ _ ___
/ __/ _ \/ _ '// __/   / _/ / _ \ / __// _ '// -_)
\__/_//_/\_,_//_/     /_/   \___//_/   \_, / \__/
                                      /___/
        >> CHARACTER PIPELINE ORCHESTRATOR <<
`

	width := termWidth()
	var b strings.Builder
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		b.WriteString(strings.Repeat(" ", padding))
		b.WriteString(paint(colorNeonCyan, l))
		b.WriteString("\n")
	}
	Print(b.String())
}

// Rule returns a horizontal rule spanning the terminal.
func Rule() string {
	return paint(colorNeonMag, strings.Repeat("─", min(termWidth(), 100)))
}

// Heading formats a section heading.
func Heading(s string) string {
	return paint(colorBold, s)
}

// StatusText colours a final status word.
func StatusText(status string) string {
	switch status {
	case "completed":
		return paint(colorGreen, status)
	case "error":
		return paint(colorRed, status)
	default:
		return status
	}
}
