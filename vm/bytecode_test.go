package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elias-michaias/rrvm/vm"
)

func TestEncodedWords(t *testing.T) {
	cases := map[vm.OpCode]int{
		vm.Push:     3,
		vm.Set:      3,
		vm.Move:     2,
		vm.Offset:   2,
		vm.Function: 2,
		vm.Call:     2,
		vm.While:    2,
		vm.Nop:      1,
		vm.Add:      1,
		vm.Halt:     1,
		vm.EndBlock: 1,
	}
	for op, want := range cases {
		require.Equalf(t, want, op.EncodedWords(), "opcode %s", op)
	}
}

func TestOpCodeNameRoundTrip(t *testing.T) {
	for op := vm.Nop; op <= vm.Halt; op++ {
		name := op.String()
		require.NotEqual(t, "?unknown-opcode?", name)
		got, ok := vm.OpCodeFromName(name)
		require.True(t, ok)
		require.Equal(t, op, got)
	}
}

func TestOpCodeFromNameUnknown(t *testing.T) {
	_, ok := vm.OpCodeFromName("frobnicate")
	require.False(t, ok)
}

func TestHasTypeImmediate(t *testing.T) {
	require.True(t, vm.Push.HasTypeImmediate())
	require.True(t, vm.Set.HasTypeImmediate())
	require.False(t, vm.Move.HasTypeImmediate())
	require.False(t, vm.Add.HasTypeImmediate())
}
