// Package asm turns RRVM's line-oriented textual source (.rr) into bytecode
// words the vm package can run.
package asm

import "strings"

// LexLine tokenizes a single source line: a leading `#` (ignoring
// whitespace) yields zero tokens, a `#` after any token begins a trailing
// comment, and remaining text is split on whitespace runs. A trailing CR is
// stripped here as well (Assemble's bufio.Scanner already drops one before
// each newline) so LexLine also accepts raw lines from other callers.
func LexLine(line string) []string {
	line = strings.TrimRight(line, "\r")

	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}

	return strings.Fields(line)
}
