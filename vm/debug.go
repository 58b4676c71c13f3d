package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunProgramDebugMode single-steps v against it, printing the next
// instruction and VM state after every step and accepting commands from in
// (spec.md §6.1 --debug; grounded on the teacher's execProgramDebugMode):
//
//	n, next        execute one instruction
//	r, run         run to completion (or to a breakpoint)
//	b, break <ip>  toggle a breakpoint at the given VM-IP
func RunProgramDebugMode(v *VM, it *Interpreter, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <ip>: break on instruction (or remove break)\n\n")
	printDebugState(v, out)

	reader := bufio.NewReader(in)
	waitForInput := true
	breakAt := make(map[int]struct{})
	lastBreak := -1

	for {
		line := ""
		if waitForInput {
			fmt.Fprint(out, "->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, ok := breakAt[v.IP()]; ok && lastBreak != v.IP() {
			fmt.Fprintln(out, "breakpoint")
			printDebugState(v, out)
			waitForInput = true
			lastBreak = v.IP()
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = -1
			halted, err := Step(v, it)
			if waitForInput {
				printDebugState(v, out)
			}
			if err != nil {
				fmt.Fprintln(out, err)
				return err
			}
			if halted {
				return nil
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "break"), "b"))
			ip, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Fprintln(out, "unknown instruction pointer:", err)
				continue
			}
			if _, ok := breakAt[ip]; ok {
				delete(breakAt, ip)
			} else {
				breakAt[ip] = struct{}{}
			}
		}
	}
}

func printDebugState(v *VM, out io.Writer) {
	if v.ip < len(v.Code) {
		if v.DebugSym != nil {
			fmt.Fprintf(out, "->\t\tnext instruction> %d: %s\n", v.ip, v.DebugSym[v.ip])
		} else {
			fmt.Fprintf(out, "->\t\tnext instruction> %d: %s\n", v.ip, OpCode(v.Code[v.ip]))
		}
	}
	fmt.Fprintf(out, "->\t\tip=%d sp=%d fp=%d tp=%d\n", v.ip, v.sp, v.fp, v.tp)
}
