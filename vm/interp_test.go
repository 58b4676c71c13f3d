package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elias-michaias/rrvm/asm"
	"github.com/elias-michaias/rrvm/vm"
)

// runSource assembles src and runs it to completion, returning whatever the
// program printed.
func runSource(t *testing.T, src string) string {
	t.Helper()
	code, debugSym, err := asm.Assemble(strings.NewReader(src))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym)
	var out bytes.Buffer
	it := vm.NewInterpreter()
	it.Out = &out

	require.NoError(t, vm.RunProgram(v, it))
	return out.String()
}

// These five mirror the concrete end-to-end scenarios: arithmetic, call,
// if/else, while, and pointer deref.

func TestScenarioArithmetic(t *testing.T) {
	out := runSource(t, `
push i64 3
push i64 4
add
push i64 5
mul
print
halt
`)
	require.Equal(t, "35", out)
}

func TestScenarioCallAdd(t *testing.T) {
	out := runSource(t, `
func foo
  push i64 7
  push i64 35
  add
  ret
end
func bar
  push i64 5
  push i64 3
  mul
  ret
end
call foo
call bar
add
print
halt
`)
	require.Equal(t, "57", out)
}

func TestScenarioIfElse(t *testing.T) {
	out := runSource(t, `
push i64 1
if
  push i64 100
  print
else
  push i64 200
  print
end
halt
`)
	require.Equal(t, "100", out)
}

func TestScenarioIfElseFalseBranch(t *testing.T) {
	out := runSource(t, `
push i64 0
if
  push i64 100
  print
else
  push i64 200
  print
end
halt
`)
	require.Equal(t, "200", out)
}

func TestScenarioWhileCountdown(t *testing.T) {
	out := runSource(t, `
push i64 4
store
cond1:
load
while cond1
  load
  print
  load
  push i64 1
  sub
  store
end
halt
`)
	require.Equal(t, "4321", out)
}

// A loop's block stack entry must be reused on every iteration rather than
// pushed fresh, since block_sp bounds nesting depth (vm/state.go's
// DefaultBlockStackSize), not how many times a loop runs. 300 iterations
// exceeds that bound; a regression here panics with ErrBlockStackOverflow.
func TestWhileLoopPast256IterationsDoesNotOverflowBlockStack(t *testing.T) {
	out := runSource(t, `
push i64 300
store
cond1:
load
while cond1
  load
  push i64 1
  sub
  store
end
load
print
halt
`)
	require.Equal(t, "0", out)
}

func TestScenarioPointerDeref(t *testing.T) {
	out := runSource(t, `
set ptr 1
deref
set i64 123
refer
offset 1
load
print
offset -1
where
print
halt
`)
	require.Equal(t, "1230", out)
}

func TestHaltStopsBeforeTrailingInstructions(t *testing.T) {
	out := runSource(t, `
push i64 1
print
halt
push i64 2
print
`)
	require.Equal(t, "1", out)
}

func TestEmptyProgramReturnsImmediately(t *testing.T) {
	out := runSource(t, "")
	require.Equal(t, "", out)
}

func TestDivideByZeroFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
push i64 1
push i64 0
div
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym)
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrDivideByZero)
}

func TestStackUnderflowFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
add
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym)
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrStackUnderflow)
}

func TestTapeOutOfRangeFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
move -1
load
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym, vm.WithTapeSize(16))
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrTapeOutOfRange)
}

func TestPointerHistoryOverflowFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
deref
deref
deref
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym, vm.WithTapeSize(2))
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrPointerHistoryOverflow)
}

func TestTypeMismatchFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
push i64 1
push u64 1
add
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym)
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrTypeMismatch)
}

func TestUnknownFunctionCallFaults(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
func foo
  ret
end
call foo
call foo
halt
`))
	require.NoError(t, err)

	// Corrupt every call's function index to one that was never defined,
	// bypassing the assembler's own bookkeeping, to exercise the
	// interpreter's own bounds check directly.
	for i := 0; i < len(code)-1; i++ {
		if code[i] == vm.Word(vm.Call) {
			code[i+1] = 99
		}
	}

	v := vm.NewVM(code, debugSym)
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)
	require.ErrorIs(t, err, vm.ErrUnknownFunction)
}

func TestFaultReportsInstructionPointer(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(`
push i64 1
push i64 0
div
halt
`))
	require.NoError(t, err)

	v := vm.NewVM(code, debugSym)
	it := vm.NewInterpreter()
	err = vm.RunProgram(v, it)

	var fault *vm.Fault
	require.ErrorAs(t, err, &fault)
	// each push is 3 words (ip 0-2, 3-5); div is 1 word and dispatch has
	// already advanced ip past it by the time the hook panics.
	require.Equal(t, 7, fault.IP)
}
