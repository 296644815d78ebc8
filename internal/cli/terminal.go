package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// isTerminal reports whether s is an *os.File attached to a terminal.
func isTerminal(s any) bool {
	f, ok := s.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// logFormatter picks human-readable output for a terminal and logfmt when
// stderr is captured (CI, editors, git GUIs).
func logFormatter(stderr io.Writer) log.Formatter {
	if isTerminal(stderr) {
		return log.TextFormatter
	}
	return log.LogfmtFormatter
}
