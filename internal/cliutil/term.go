package cliutil

import (
	"io"
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether w writes to an interactive terminal. Used to
// decide between the inline status line and plain line output when stdout is
// piped.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
