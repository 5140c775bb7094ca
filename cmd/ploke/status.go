package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	statusGreen  = color.New(color.FgGreen, color.Bold)
	statusRed    = color.New(color.FgRed, color.Bold)
	statusYellow = color.New(color.FgYellow, color.Bold)
)

// colorEnabled reports whether w is an interactive terminal, so status
// lines degrade to plain text when piped or redirected.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func printStatus(w io.Writer, c *color.Color, verb, id, detail string) {
	if colorEnabled(w) {
		c.Fprintf(w, "%s", verb)
		fmt.Fprintf(w, " %s: %s\n", id, detail)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", verb, id, detail)
}
