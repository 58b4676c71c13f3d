package vm

// Block kinds tracked on the block stack to support endblock (spec.md §3,
// §4.2). Only While entries carry a re-entry IP; If/Else/Function entries
// exist purely so endblock/else know what they're closing.
type BlockKind byte

const (
	BlockIf BlockKind = iota
	BlockElse
	BlockWhile
	BlockFunction
)

// BlockEntry is one entry on the block stack.
type BlockEntry struct {
	Kind   BlockKind
	CondIP int // meaningful only for BlockWhile: the IP to jump back to
}

// Frame is one call-stack entry: what to restore on return.
type Frame struct {
	ReturnIP int
	OldFP    int
}

// Option configures a VM at construction time (generalizes the teacher's
// NewVirtualMachine(debug bool, files ...string) constructor into a small
// functional-options set so tests aren't forced to pay for full-size
// stack/tape arrays).
type Option func(*VM)

func WithStackSize(n int) Option     { return func(v *VM) { v.stackCap = n } }
func WithTapeSize(n int) Option      { return func(v *VM) { v.tapeCap = n } }
func WithCallStackSize(n int) Option { return func(v *VM) { v.callCap = n } }
func WithBlockStackSize(n int) Option {
	return func(v *VM) { v.blockCap = n }
}
func WithMaxFunctions(n int) Option { return func(v *VM) { v.maxFunctions = n } }

const (
	DefaultStackSize      = 1 << 16
	DefaultTapeSize       = 1 << 16
	DefaultCallStackSize  = 1024
	DefaultBlockStackSize = 256
	MaxFunctions          = 256
)

// VM holds all mutable interpreter state plus the immutable bytecode it was
// constructed from (spec.md §3 "VM State invariants"). It is threaded
// explicitly into every Backend hook rather than used as ambient/global
// state (spec.md §9 "Global mutable state").
type VM struct {
	// Bytecode, owned by the parser, immutable after construction.
	Code []Word
	// Maps VM-IP (opcode-origin byte/word offset) -> source line, as
	// returned by asm.Assemble. May be nil when the caller passes none.
	DebugSym map[int]string

	ip int

	// Value stack: parallel arrays of values and their type tags.
	stack      []Word
	stackTypes []TypeTag
	sp         int
	stackCap   int

	// Linear tape: parallel arrays of values and their type tags.
	tape      []Word
	tapeTypes []TypeTag
	tp        int
	tapeCap   int

	// LIFO history of prior tp values, for nested deref/refer.
	ptrHistory []int

	// Call stack.
	frames  []Frame
	callSp  int
	callCap int
	fp      int

	// Block stack for structured control flow.
	blocks   []BlockEntry
	blockSp  int
	blockCap int

	// Function index -> code IP of the first body instruction.
	functions      []int
	functionsCount int
	maxFunctions   int
}

// NewVM constructs a VM over already-assembled bytecode. Stacks, tape and
// counters are zeroed/allocated here (the "initialized by dispatcher"
// lifecycle step named in spec.md §3); code is owned by the caller
// (normally the parser) and never mutated.
func NewVM(code []Word, debugSym map[int]string, opts ...Option) *VM {
	v := &VM{
		Code:         code,
		DebugSym:     debugSym,
		stackCap:     DefaultStackSize,
		tapeCap:      DefaultTapeSize,
		callCap:      DefaultCallStackSize,
		blockCap:     DefaultBlockStackSize,
		maxFunctions: MaxFunctions,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.stack = make([]Word, v.stackCap)
	v.stackTypes = make([]TypeTag, v.stackCap)
	v.tape = make([]Word, v.tapeCap)
	v.tapeTypes = make([]TypeTag, v.tapeCap)
	v.frames = make([]Frame, v.callCap)
	v.blocks = make([]BlockEntry, v.blockCap)
	v.functions = make([]int, v.maxFunctions)
	v.ptrHistory = make([]int, 0, 64)

	return v
}

// IP returns the current instruction pointer (the byte/word offset of the
// next opcode to execute).
func (v *VM) IP() int { return v.ip }

// SetIP is how control-flow hooks (if/else/while/call/return/endblock)
// redirect execution. Exported so any Backend can drive real control flow,
// not only the interpreter.
func (v *VM) SetIP(ip int) { v.ip = ip }

func (v *VM) atEnd() bool { return v.ip >= len(v.Code) }

// SP/SetSP and FP/SetFP expose the value-stack pointer and current frame
// pointer so call/return can be implemented outside this file by any
// Backend (interp.go and the tac package both need them).
func (v *VM) SP() int        { return v.sp }
func (v *VM) SetSP(sp int)   { v.sp = sp }
func (v *VM) FP() int        { return v.fp }
func (v *VM) SetFP(fp int)   { v.fp = fp }
func (v *VM) TP() int        { return v.tp }
func (v *VM) SetTP(tp int)   { v.tp = tp }

// PushValue/PopValue/PeekValue expose the typed value stack.
func (v *VM) PushValue(w Word, t TypeTag) { v.pushValue(w, t) }
func (v *VM) PopValue() (Word, TypeTag)   { return v.popValue() }
func (v *VM) PeekValue() (Word, TypeTag)  { return v.peekValue() }

// TapeLoad/TapeStore expose the typed tape cell at the current tp.
func (v *VM) TapeLoad() (Word, TypeTag)      { return v.tapeLoad() }
func (v *VM) TapeStore(w Word, t TypeTag)    { v.tapeStore(w, t) }

// PushPointerHistory/PopPointerHistory expose the tp history stack used by
// deref/refer.
func (v *VM) PushPointerHistory()   { v.pushPtrHistory(v.tp) }
func (v *VM) PopPointerHistory() int {
	tp := v.popPtrHistory()
	v.tp = tp
	return tp
}

// PushFrame/PopFrame expose the call stack.
func (v *VM) PushFrame(f Frame) { v.pushFrame(f) }
func (v *VM) PopFrame() Frame   { return v.popFrame() }

// PushBlock/PopBlock/PeekBlock expose the structured-control block stack.
func (v *VM) PushBlock(e BlockEntry) { v.pushBlock(e) }
func (v *VM) PopBlock() BlockEntry   { return v.popBlock() }
func (v *VM) PeekBlock() (BlockEntry, bool) { return v.peekBlock() }

// DefineFunction/FunctionIP expose the function index -> code IP table.
func (v *VM) DefineFunction(idx, ip int) { v.defineFunction(idx, ip) }
func (v *VM) FunctionIP(idx int) int     { return v.functionIP(idx) }

// Fault panics a *Fault tagged with the given sentinel error at the current
// IP. Backends use this for the fatal invariant violations named in
// spec.md §7 ("Type/shape fault").
func (v *VM) Fault(err error) {
	panic(newFault(v.ip, err))
}

// --- value stack ---

func (v *VM) pushValue(w Word, t TypeTag) {
	if v.sp >= v.stackCap {
		panic(newFault(v.ip, ErrStackOverflow))
	}
	v.stack[v.sp] = w
	v.stackTypes[v.sp] = t
	v.sp++
}

func (v *VM) popValue() (Word, TypeTag) {
	if v.sp <= 0 {
		panic(newFault(v.ip, ErrStackUnderflow))
	}
	v.sp--
	return v.stack[v.sp], v.stackTypes[v.sp]
}

func (v *VM) peekValue() (Word, TypeTag) {
	if v.sp <= 0 {
		panic(newFault(v.ip, ErrStackUnderflow))
	}
	return v.stack[v.sp-1], v.stackTypes[v.sp-1]
}

// --- tape ---

func (v *VM) checkTape(idx int) {
	if idx < 0 || idx >= v.tapeCap {
		panic(newFault(v.ip, ErrTapeOutOfRange))
	}
}

func (v *VM) tapeLoad() (Word, TypeTag) {
	v.checkTape(v.tp)
	return v.tape[v.tp], v.tapeTypes[v.tp]
}

func (v *VM) tapeStore(w Word, t TypeTag) {
	v.checkTape(v.tp)
	v.tape[v.tp] = w
	v.tapeTypes[v.tp] = t
}

// --- pointer history ---

func (v *VM) pushPtrHistory(tp int) {
	if len(v.ptrHistory) >= v.tapeCap {
		panic(newFault(v.ip, ErrPointerHistoryOverflow))
	}
	v.ptrHistory = append(v.ptrHistory, tp)
}

func (v *VM) popPtrHistory() int {
	n := len(v.ptrHistory)
	if n == 0 {
		panic(newFault(v.ip, ErrPointerHistoryUnderflow))
	}
	tp := v.ptrHistory[n-1]
	v.ptrHistory = v.ptrHistory[:n-1]
	return tp
}

// --- call stack ---

func (v *VM) pushFrame(f Frame) {
	if v.callSp >= v.callCap {
		panic(newFault(v.ip, ErrCallStackOverflow))
	}
	v.frames[v.callSp] = f
	v.callSp++
}

func (v *VM) popFrame() Frame {
	if v.callSp <= 0 {
		panic(newFault(v.ip, ErrCallStackUnderflow))
	}
	v.callSp--
	return v.frames[v.callSp]
}

// --- block stack ---

func (v *VM) pushBlock(e BlockEntry) {
	if v.blockSp >= v.blockCap {
		panic(newFault(v.ip, ErrBlockStackOverflow))
	}
	v.blocks[v.blockSp] = e
	v.blockSp++
}

func (v *VM) popBlock() BlockEntry {
	if v.blockSp <= 0 {
		panic(newFault(v.ip, ErrBlockStackUnderflow))
	}
	v.blockSp--
	return v.blocks[v.blockSp]
}

func (v *VM) peekBlock() (BlockEntry, bool) {
	if v.blockSp <= 0 {
		return BlockEntry{}, false
	}
	return v.blocks[v.blockSp-1], true
}

// --- function table ---

func (v *VM) defineFunction(idx, ip int) {
	if idx < 0 || idx >= v.maxFunctions {
		panic(newFault(v.ip, ErrUnknownFunction))
	}
	v.functions[idx] = ip
	if idx+1 > v.functionsCount {
		v.functionsCount = idx + 1
	}
}

func (v *VM) functionIP(idx int) int {
	if idx < 0 || idx >= v.functionsCount {
		panic(newFault(v.ip, ErrUnknownFunction))
	}
	return v.functions[idx]
}
