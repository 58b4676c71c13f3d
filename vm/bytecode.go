package vm

/*
	Instruction encoding in the bytecode stream (spec.md §3):

		0-immediate ops occupy 1 word (the opcode):
			nop, add, sub, mul, div, rem, load, store, print, printchar,
			deref, refer, where, index, return, else, endblock,
			orassign, andassign, not, bitand, bitor, bitxor, lsh, lrsh, arsh,
			gez, halt

		1-immediate ops occupy 2 words (opcode, immediate):
			move, offset, function, call, while

		2-immediate ops occupy 3 words (opcode, type-tag, immediate):
			push, set

	The forward-scan skipper (scan.go) and the tac package's origin-IP
	computation derive the number of words an opcode consumes from
	OpCode.EncodedWords. The dispatcher (dispatch.go) advances ip by the
	same widths written out per opcode case; it does not call EncodedWords.
*/

// OpCode is the VM's instruction mnemonic, one byte wide in spirit (stored
// as a Word in the bytecode stream so encoding stays word-aligned).
type OpCode byte

const (
	Nop OpCode = iota

	// stack/arith
	Push
	Add
	Sub
	Mul
	Div
	Rem

	// memory/tape
	Move
	Load
	Store
	Print
	PrintChar

	// pointer/refs
	Deref
	Refer
	Where
	Offset
	Index
	Set

	// control
	Function
	Call
	Return
	While
	If
	Else
	EndBlock

	// bitwise/logical
	OrAssign
	AndAssign
	Not
	BitAnd
	BitOr
	BitXor
	Lsh
	Lrsh
	Arsh
	Gez

	// terminator
	Halt
)

var opcodeNames = map[OpCode]string{
	Nop:       "nop",
	Push:      "push",
	Add:       "add",
	Sub:       "sub",
	Mul:       "mul",
	Div:       "div",
	Rem:       "rem",
	Move:      "move",
	Load:      "load",
	Store:     "store",
	Print:     "print",
	PrintChar: "printchar",
	Deref:     "deref",
	Refer:     "refer",
	Where:     "where",
	Offset:    "offset",
	Index:     "index",
	Set:       "set",
	Function:  "function",
	Call:      "call",
	Return:    "return",
	While:     "while",
	If:        "if",
	Else:      "else",
	EndBlock:  "endblock",
	OrAssign:  "orassign",
	AndAssign: "andassign",
	Not:       "not",
	BitAnd:    "bitand",
	BitOr:     "bitor",
	BitXor:    "bitxor",
	Lsh:       "lsh",
	Lrsh:      "lrsh",
	Arsh:      "arsh",
	Gez:       "gez",
	Halt:      "halt",
}

var nameToOpcode map[string]OpCode

func init() {
	nameToOpcode = make(map[string]OpCode, len(opcodeNames))
	for op, name := range opcodeNames {
		nameToOpcode[name] = op
	}
}

func (op OpCode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "?unknown-opcode?"
}

// OpCodeFromName looks up an OpCode by its case-folded mnemonic (§6.3:
// mnemonics are case-insensitive; the parser lowercases before this call).
func OpCodeFromName(name string) (OpCode, bool) {
	op, ok := nameToOpcode[name]
	return op, ok
}

// EncodedWords returns how many Words (including the opcode itself) this
// instruction occupies in the bytecode stream. Duplicating this arithmetic
// across multiple scanners is, per spec.md §9, "the single biggest
// correctness risk" — every forward-scan calls through this one table
// (Step in dispatch.go spells out the same widths per opcode case).
func (op OpCode) EncodedWords() int {
	switch op {
	case Push, Set:
		return 3
	case Move, Offset, Function, Call, While:
		return 2
	default:
		return 1
	}
}

// HasTypeImmediate reports whether this opcode's encoding carries a
// TypeTag immediate ahead of its value immediate (push/set).
func (op OpCode) HasTypeImmediate() bool {
	return op == Push || op == Set
}
