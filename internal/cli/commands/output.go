package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	dim    = color.New(color.Faint)
)

// PrintError writes the single "Error: <cause>" line main prints on failure.
// fatih/color drops the escape codes when w is not a terminal.
func PrintError(w io.Writer, err error) {
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	yellow.Fprint(w, "Warning: ")
	fmt.Fprintf(w, format+"\n", args...)
}
