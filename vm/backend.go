package vm

// Backend is the hook table the dispatcher drives: one method per opcode,
// named after the opcode it handles (spec.md §9: "model as an interface /
// capability set over the opcode repertoire... explicit match so missing
// implementations are compile-time errors" — a plain Go interface gives us
// that for free, unlike the teacher's function-pointer table indexed by
// Bytecode value).
//
// Dispatch has already advanced the VM's ip past the opcode and its
// immediates by the time a hook runs (spec.md §4.1); a hook that needs its
// own origin IP (the TAC backend does, to key its VM-IP maps) computes it
// as v.IP() minus its own opcode's EncodedWords().
type Backend interface {
	Nop(v *VM) error

	Push(v *VM, t TypeTag, imm Word) error
	Add(v *VM) error
	Sub(v *VM) error
	Mul(v *VM) error
	Div(v *VM) error
	Rem(v *VM) error

	Move(v *VM, imm Word) error
	Load(v *VM) error
	Store(v *VM) error
	Print(v *VM) error
	PrintChar(v *VM) error

	Deref(v *VM) error
	Refer(v *VM) error
	Where(v *VM) error
	Offset(v *VM, imm Word) error
	Index(v *VM) error
	Set(v *VM, t TypeTag, imm Word) error

	Function(v *VM, idx Word) error
	Call(v *VM, idx Word) error
	Return(v *VM) error
	While(v *VM, condIP Word) error
	If(v *VM) error
	Else(v *VM) error
	EndBlock(v *VM) error

	OrAssign(v *VM) error
	AndAssign(v *VM) error
	Not(v *VM) error
	BitAnd(v *VM) error
	BitOr(v *VM) error
	BitXor(v *VM) error
	Lsh(v *VM) error
	Lrsh(v *VM) error
	Arsh(v *VM) error
	Gez(v *VM) error

	Halt(v *VM) error
}
