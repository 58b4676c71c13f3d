package asm_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elias-michaias/rrvm/asm"
	"github.com/elias-michaias/rrvm/vm"
)

func TestAssembleEmptySource(t *testing.T) {
	code, debugSym, err := asm.Assemble(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, code)
	require.Empty(t, debugSym)
}

func TestAssemblePushEncodesThreeWords(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("push i64 3\nhalt\n"))
	require.NoError(t, err)
	require.Equal(t, []vm.Word{vm.Word(vm.Push), vm.Word(vm.I64), 3, vm.Word(vm.Halt)}, code)
}

func TestAssembleSetEncodesThreeWords(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("set u32 10\n"))
	require.NoError(t, err)
	require.Equal(t, []vm.Word{vm.Word(vm.Set), vm.Word(vm.U32), 10}, code)
}

func TestAssembleMoveEncodesTwoWords(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("move -2\n"))
	require.NoError(t, err)
	require.Equal(t, []vm.Word{vm.Word(vm.Move), -2}, code)
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("frobnicate\n"))
	require.ErrorIs(t, err, asm.ErrUnknownMnemonic)
}

func TestAssembleBadImmediate(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("push i64 not-a-number\n"))
	require.ErrorIs(t, err, asm.ErrBadImmediate)
}

func TestAssembleLabelRedefinition(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("top:\nnop\ntop:\n"))
	require.ErrorIs(t, err, asm.ErrLabelRedefined)
}

func TestAssembleFunctionRedefinition(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("func foo\nret\nend\nfunc foo\nret\nend\n"))
	require.ErrorIs(t, err, asm.ErrLabelRedefined)
}

func TestAssembleWhileForwardLabelResolves(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader(
		"push i64 1\nwhile top\nnop\nend\ntop:\nnop\n"))
	require.NoError(t, err)

	// The while instruction's immediate is the second word; it must equal
	// the code index of the "top:" label, which is the index of the final
	// nop (everything before it: push(3) + while(2) + nop(1) + end(1) = 7).
	require.Equal(t, vm.Word(vm.While), code[3])
	require.Equal(t, vm.Word(7), code[4])
}

func TestAssembleUnresolvedWhileLabel(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("push i64 1\nwhile nowhere\nend\n"))
	require.ErrorIs(t, err, asm.ErrUnresolvedWhileLabel)
}

func TestAssembleCallBeforeFuncDefinition(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("call foo\nfunc foo\nret\nend\n"))
	require.NoError(t, err)
	// call's function index (word after the opcode) must match func's.
	require.Equal(t, code[1], code[3])
}

func TestAssembleCallToUndefinedFunction(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("call foo\nhalt\n"))
	require.ErrorIs(t, err, asm.ErrUnknownFunction)
}

func TestAssembleFloatImmediateDecimal(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("push f32 1.5\n"))
	require.NoError(t, err)
	require.Equal(t, float32(1.5), code[2].Float32())
}

func TestAssembleFloatImmediateHexBitPattern(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("push f64 0x3ff0000000000000\n"))
	require.NoError(t, err)
	require.Equal(t, 1.0, code[2].Float64())
}

func TestAssembleTrailingTokensAfterLabel(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("top: nop\n"))
	require.ErrorIs(t, err, asm.ErrTrailingTokens)
}

func TestAssembleMissingOperand(t *testing.T) {
	_, _, err := asm.Assemble(strings.NewReader("push i64\n"))
	require.ErrorIs(t, err, asm.ErrMissingOperand)
}

func TestAssembleCommentRobustness(t *testing.T) {
	withComments := "push i64 3 # three\nhalt # done\n"
	withoutComments := "push i64 3\nhalt\n"

	c1, _, err := asm.Assemble(strings.NewReader(withComments))
	require.NoError(t, err)
	c2, _, err := asm.Assemble(strings.NewReader(withoutComments))
	require.NoError(t, err)
	require.Equal(t, c2, c1)
}

func TestAssembleCaseInsensitiveMnemonics(t *testing.T) {
	code, _, err := asm.Assemble(strings.NewReader("PUSH i64 1\nHALT\n"))
	require.NoError(t, err)
	require.Equal(t, vm.Word(vm.Push), code[0])
	require.Equal(t, vm.Word(vm.Halt), code[3])
}

func TestAssembleTooManyFunctionsIsParseError(t *testing.T) {
	var src strings.Builder
	for i := 0; i <= vm.MaxFunctions; i++ {
		fmt.Fprintf(&src, "call f%d\n", i)
	}
	_, _, err := asm.Assemble(strings.NewReader(src.String()))
	require.ErrorIs(t, err, asm.ErrTooManyFunctions)
}

func TestAssembleDebugSymRecordsSourceLine(t *testing.T) {
	_, debugSym, err := asm.Assemble(strings.NewReader("push i64 1\nhalt\n"))
	require.NoError(t, err)
	require.Equal(t, "push i64 1", debugSym[0])
	require.Equal(t, "halt", debugSym[3])
}
