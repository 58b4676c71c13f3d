package vm

// ScanForwardPastBlock walks code forward from fromIP, tracking nested
// if/while/function openers against endblock closers, and returns the IP
// just past the matching closer at nesting depth zero.
//
// If stopAtElse is true, an else encountered at depth zero stops the scan
// there instead (used by if's false-branch skip); while's and function's
// skips pass stopAtElse=false so a depth-zero else — which can't occur
// inside a while/function body without its own enclosing if — is never
// special-cased for them.
//
// This is the single table spec.md §9 asks for ("centralize... in one
// place"): the If, While, Function and Else skips all route through
// OpCode.EncodedWords via this one function, so none of them hand-counts
// immediate widths a second time.
func ScanForwardPastBlock(code []Word, fromIP int, stopAtElse bool) (targetIP int, hitElse bool) {
	depth := 0
	ip := fromIP
	for ip < len(code) {
		op := OpCode(code[ip])
		switch op {
		case If, While, Function:
			depth++
			ip += op.EncodedWords()
		case Else:
			if depth == 0 && stopAtElse {
				return ip + 1, true
			}
			ip += op.EncodedWords()
		case EndBlock:
			if depth == 0 {
				return ip + 1, false
			}
			depth--
			ip += op.EncodedWords()
		default:
			ip += op.EncodedWords()
		}
	}
	return ip, false
}
