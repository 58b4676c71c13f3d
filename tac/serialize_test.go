package tac

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elias-michaias/rrvm/vm"
)

func TestSerializeArithmeticScenario(t *testing.T) {
	prog := []Inst{
		{Op: "const", Dst: 0, Type: vm.I64, Imm: 3, HasImm: true},
		{Op: "const", Dst: 1, Type: vm.I64, Imm: 4, HasImm: true},
		{Op: "add", Dst: 2, Type: vm.I64, Operands: []int{0, 1}},
		{Op: "const", Dst: 3, Type: vm.I64, Imm: 5, HasImm: true},
		{Op: "mul", Dst: 4, Type: vm.I64, Operands: []int{2, 3}},
		{Op: "print", Operands: []int{4}},
	}

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, prog))

	want := "l0 :-\n" +
		"  const(t0, i64, 3),\n" +
		"  const(t1, i64, 4),\n" +
		"  add(t2, i64, t0, t1),\n" +
		"  const(t3, i64, 5),\n" +
		"  mul(t4, i64, t2, t3),\n" +
		"  print(t4).\n"
	require.Equal(t, want, buf.String())
}

func TestSerializeEmptyProgram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, nil))
	require.Empty(t, buf.String())
}

func TestSplitBlocksStartsNewBlockAtLabel(t *testing.T) {
	prog := []Inst{
		{Op: "const", Dst: 0, Type: vm.I64, Imm: 1, HasImm: true},
		{Op: "label", Target: 1},
		{Op: "print", Operands: []int{0}},
	}
	blocks := splitBlocks(prog)
	require.Len(t, blocks, 2)
	require.Equal(t, 0, blocks[0].label)
	require.Equal(t, 1, blocks[1].label)
	require.Len(t, blocks[0].goals, 1)
	require.Len(t, blocks[1].goals, 1)
}

func TestSplitBlocksStartsNewImplicitBlockAfterRet(t *testing.T) {
	prog := []Inst{
		{Op: "label", Target: 1},
		{Op: "ret"},
		{Op: "const", Dst: 0, Type: vm.I64, Imm: 1, HasImm: true},
	}
	blocks := splitBlocks(prog)
	require.Len(t, blocks, 2)
	require.Equal(t, 1, blocks[0].label)
	require.Equal(t, 0, blocks[1].label) // reserved id for an implicit block
}

func TestGoalTextFloatImmediateIsHexWithComment(t *testing.T) {
	in := Inst{Op: "const", Dst: 0, Type: vm.F32, Imm: vm.WordFromFloat32(1.5), HasImm: true}
	text := goalText(in)
	require.Contains(t, text, "0x")
	require.Contains(t, text, "1.5")
}

func TestGoalTextUnsignedImmediateIsDecimal(t *testing.T) {
	in := Inst{Op: "const", Dst: 0, Type: vm.U32, Imm: 42, HasImm: true}
	require.Equal(t, "const(t0, u32, 42)", goalText(in))
}

func TestGoalTextJumpsAndCalls(t *testing.T) {
	require.Equal(t, "jmp(l3)", goalText(Inst{Op: "jmp", Target: 3}))
	require.Equal(t, "jz(t1, l2)", goalText(Inst{Op: "jz", Operands: []int{1}, Target: 2}))
	require.Equal(t, "call(l5, t0)", goalText(Inst{Op: "call", Dst: 0, Target: 5}))
	require.Equal(t, "ret", goalText(Inst{Op: "ret"}))
}
