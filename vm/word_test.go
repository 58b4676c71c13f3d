package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elias-michaias/rrvm/vm"
)

func TestWordFloatRoundTrip32(t *testing.T) {
	w := vm.WordFromFloat32(3.5)
	require.Equal(t, float32(3.5), w.Float32())
}

func TestWordFloatRoundTrip64(t *testing.T) {
	w := vm.WordFromFloat64(-12.25)
	require.Equal(t, -12.25, w.Float64())
}

func TestWordSigned64SignExtends(t *testing.T) {
	w := vm.Word(int64(int8(-1)))
	require.Equal(t, int64(-1), w.Signed64(vm.I8))
}

func TestWordUnsigned64ZeroExtends(t *testing.T) {
	w := vm.Word(0xff)
	require.Equal(t, uint64(0xff), w.Unsigned64(vm.U8))
}

func TestWordTruncateNarrows(t *testing.T) {
	w := vm.Word(0x1ff)
	require.Equal(t, uint64(0xff), w.Truncate(vm.U8).Unsigned64(vm.U8))

	signed := vm.Word(0xff) // low byte all-ones
	require.Equal(t, int64(-1), signed.Truncate(vm.I8).Signed64(vm.I8))
}

func TestTypeTagFromName(t *testing.T) {
	tag, ok := vm.TypeTagFromName("i32")
	require.True(t, ok)
	require.Equal(t, vm.I32, tag)

	_, ok = vm.TypeTagFromName("not-a-type")
	require.False(t, ok)
}

func TestTypeTagIsFloatIsSigned(t *testing.T) {
	require.True(t, vm.F32.IsFloat())
	require.True(t, vm.F64.IsFloat())
	require.False(t, vm.I32.IsFloat())

	require.True(t, vm.I32.IsSigned())
	require.True(t, vm.Ptr.IsSigned())
	require.False(t, vm.U32.IsSigned())
}

func TestTypeTagString(t *testing.T) {
	require.Equal(t, "i64", vm.I64.String())
	require.Equal(t, "?unknown-type?", vm.TypeTag(255).String())
}
