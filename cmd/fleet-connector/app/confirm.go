package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// confirm asks prompt on out and reports whether the answer read from in was yes.
// A file that is not a terminal, such as piped or redirected stdin, is never
// prompted and counts as no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	if f, ok := in.(interface{ Fd() uintptr }); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "stdin is not a terminal; rerun with --yes to skip confirmation")
		return false
	}

	fmt.Fprintf(out, "%s (yes/no): ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}
