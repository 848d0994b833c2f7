package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a message in green.
func infof(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.FgGreen).Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.Bold, color.FgYellow).Fprint(w, "Warning: ")
	printf(w, format, a...)
}

// errorf prints a message prefixed with a bold red "Error: ".
func errorf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.Bold, color.FgRed).Fprint(w, "Error: ")
	printf(w, format, a...)
}

// prompt prints a bold prompt without a trailing newline.
func prompt(w io.Writer, text string) {
	//nolint:errcheck
	color.New(color.Bold).Fprint(w, text)
}
