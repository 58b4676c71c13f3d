// Package tac lowers an RRVM program into three-address, SSA-style code by
// running the exact same dispatcher the interpreter runs, but shadowing
// the operand stack with temp ids instead of values.
package tac

import (
	"errors"
	"io"
	"log"

	"github.com/elias-michaias/rrvm/vm"
)

// Lowering faults (spec.md §7's "Lowering fault" kind). Unlike vm's
// faults, ErrMissingCondLabel has a documented fallback instead of always
// aborting (spec.md §4.3 point 3) — it is logged, not panicked.
var (
	ErrNoOperand        = errors.New("tac: missing operand temp on shadow stack")
	ErrUnknownBlockKind  = errors.New("tac: endblock with no matching open block")
	ErrMissingCondLabel = errors.New("tac: while has no recorded tac index for its condition ip")
)

// Inst is one emitted three-address instruction. Not every field is
// meaningful for every Op; Serialize (serialize.go) knows which.
type Inst struct {
	Op       string
	Dst      int // temp id for ops that define one; otherwise unused (0, or -1 for ret)
	Type     vm.TypeTag
	Operands []int // operand temp ids, in the order the surface syntax expects
	Imm      vm.Word
	HasImm   bool
	Target   int // label id, for label/jmp/jz/call
}

type tacBlock struct {
	kind string // "if", "else", "while", "function"
	rec  *siteRecord // nil for "function"
}

// siteRecord memoizes what a given static instruction (keyed by its VM-IP
// origin) already emitted, so a loop body or a repeatedly-called function
// is lowered to TAC text exactly once no matter how many times it actually
// executes (spec.md §8: "every temp is assigned exactly once").
//
// elseLblDone/endLblDone guard if/while's closing labels specifically:
// which hook ends up emitting them depends on which branch a given dynamic
// visit takes (see If/Else/While/EndBlock below), so the flag must be
// shared across whichever path gets there first rather than re-derived
// per hook.
type siteRecord struct {
	dst             int // -1 if none
	extra           int // index's materialized tape-read temp; -1 otherwise
	elseLbl, endLbl int
	condLbl         int
	elseLblDone     bool
	endLblDone      bool
}

// Lowerer is the Backend that performs the lowering. It delegates every
// opcode's real, value-accurate execution to an embedded *vm.Interpreter
// (writing to io.Discard) so that control-flow decisions — which branch of
// an if is live, how many times a while loops, which function a call
// reaches — are governed by the identical logic the real interpreter uses,
// satisfying the re-interpretability invariant (spec.md §8) by construction
// rather than by re-deriving it.
type Lowerer struct {
	interp *vm.Interpreter

	// shadow mirrors the VM's value stack, holding temp ids instead of
	// values. The one exception: Call pushes its destination temp when the
	// call is dispatched, while the real return value is pushed only at
	// ret, so inside a callee the shadow stack holds one extra entry.
	shadow []int

	// ptrTemp is the temp id currently representing the tape pointer tp;
	// ptrHistoryShadow mirrors the VM's pointer-history stack. Neither
	// opcode contract in spec.md §4.3 says tp is itself an element of the
	// ordinary shadow stack except via an explicit `where` (which pushes
	// tp onto the real value stack too) — see DESIGN.md.
	ptrTemp           int
	ptrHistoryShadow  []int

	nextTemp  int
	tempTypes []vm.TypeTag

	nextLabel int

	prog    []Inst
	ipIndex map[int]int // VM-IP -> tac index, populated at emission time
	ipLabel map[int]int // VM-IP -> label id, populated on label association

	funcLabels map[int]int // function idx -> label id

	blockStack []tacBlock
	siteMemo   map[int]*siteRecord
}

var _ vm.Backend = (*Lowerer)(nil)

// NewLowerer returns a Lowerer ready to drive vm.Dispatch over a program.
// Label id 0 is reserved for the serializer's implicit leading block, so
// real labels are allocated starting at 1.
func NewLowerer() *Lowerer {
	interp := vm.NewInterpreter()
	interp.Out = io.Discard
	return &Lowerer{
		interp:     interp,
		ptrTemp:    -1,
		nextLabel:  1,
		ipIndex:    make(map[int]int),
		ipLabel:    make(map[int]int),
		funcLabels: make(map[int]int),
		siteMemo:   make(map[int]*siteRecord),
	}
}

// Program returns the emitted instruction stream.
func (l *Lowerer) Program() []Inst { return l.prog }

// TempType returns the inferred type of temp id.
func (l *Lowerer) TempType(id int) vm.TypeTag { return l.tempTypes[id] }

func (l *Lowerer) newTemp(t vm.TypeTag) int {
	id := l.nextTemp
	l.nextTemp++
	l.tempTypes = append(l.tempTypes, t)
	return id
}

func (l *Lowerer) newLabel() int {
	id := l.nextLabel
	l.nextLabel++
	return id
}

func (l *Lowerer) emit(in Inst) int {
	idx := len(l.prog)
	l.prog = append(l.prog, in)
	return idx
}

func (l *Lowerer) pushShadow(id int) { l.shadow = append(l.shadow, id) }

func (l *Lowerer) popShadow() int {
	n := len(l.shadow)
	if n == 0 {
		panic(ErrNoOperand)
	}
	id := l.shadow[n-1]
	l.shadow = l.shadow[:n-1]
	return id
}

func (l *Lowerer) peekShadow() (int, bool) {
	if len(l.shadow) == 0 {
		return 0, false
	}
	return l.shadow[len(l.shadow)-1], true
}

// currentPtrTemp lazily materializes a temp for tp the first time a
// pointer op needs one without tp ever having been read via `where`.
func (l *Lowerer) currentPtrTemp() int {
	if l.ptrTemp < 0 {
		d := l.newTemp(vm.Ptr)
		l.emit(Inst{Op: "where", Dst: d})
		l.ptrTemp = d
	}
	return l.ptrTemp
}

// insertLabelAt splices a label instruction into the already-emitted
// stream at tacIdx, shifting every later VM-IP -> tac-index entry up by
// one (spec.md §4.3 "Retroactive label insertion").
func (l *Lowerer) insertLabelAt(tacIdx, labelID int) {
	l.prog = append(l.prog, Inst{})
	copy(l.prog[tacIdx+1:], l.prog[tacIdx:])
	l.prog[tacIdx] = Inst{Op: "label", Target: labelID}
	for ip, idx := range l.ipIndex {
		if idx >= tacIdx {
			l.ipIndex[ip] = idx + 1
		}
	}
}

func originIP(v *vm.VM, op vm.OpCode) int {
	return v.IP() - op.EncodedWords()
}

func (l *Lowerer) labelForFunc(idx int) int {
	if lbl, ok := l.funcLabels[idx]; ok {
		return lbl
	}
	lbl := l.newLabel()
	l.funcLabels[idx] = lbl
	return lbl
}

// --- Backend ---

func (l *Lowerer) Nop(v *vm.VM) error { return l.interp.Nop(v) }

func (l *Lowerer) Push(v *vm.VM, t vm.TypeTag, imm vm.Word) error {
	origin := originIP(v, vm.Push)
	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(t)
		l.ipIndex[origin] = l.emit(Inst{Op: "const", Dst: d, Type: t, Imm: imm, HasImm: true})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.pushShadow(d)
	return l.interp.Push(v, t, imm)
}

func (l *Lowerer) binary(v *vm.VM, op vm.OpCode, tacOp string, real func(*vm.VM) error) error {
	origin := originIP(v, op)
	r := l.popShadow()
	left := l.popShadow()
	var d int
	if rec, seen := l.siteMemo[origin]; seen {
		d = rec.dst
	} else {
		dstType := l.tempTypes[left]
		d = l.newTemp(dstType)
		l.ipIndex[origin] = l.emit(Inst{Op: tacOp, Dst: d, Type: dstType, Operands: []int{left, r}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	}
	l.pushShadow(d)
	return real(v)
}

func (l *Lowerer) binaryBool(v *vm.VM, op vm.OpCode, tacOp string, real func(*vm.VM) error) error {
	origin := originIP(v, op)
	r := l.popShadow()
	left := l.popShadow()
	var d int
	if rec, seen := l.siteMemo[origin]; seen {
		d = rec.dst
	} else {
		d = l.newTemp(vm.Bool)
		l.ipIndex[origin] = l.emit(Inst{Op: tacOp, Dst: d, Type: vm.Bool, Operands: []int{left, r}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	}
	l.pushShadow(d)
	return real(v)
}

func (l *Lowerer) unaryBool(v *vm.VM, op vm.OpCode, tacOp string, real func(*vm.VM) error) error {
	origin := originIP(v, op)
	o := l.popShadow()
	var d int
	if rec, seen := l.siteMemo[origin]; seen {
		d = rec.dst
	} else {
		d = l.newTemp(vm.Bool)
		l.ipIndex[origin] = l.emit(Inst{Op: tacOp, Dst: d, Type: vm.Bool, Operands: []int{o}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	}
	l.pushShadow(d)
	return real(v)
}

func (l *Lowerer) Add(v *vm.VM) error { return l.binary(v, vm.Add, "add", l.interp.Add) }
func (l *Lowerer) Sub(v *vm.VM) error { return l.binary(v, vm.Sub, "sub", l.interp.Sub) }
func (l *Lowerer) Mul(v *vm.VM) error { return l.binary(v, vm.Mul, "mul", l.interp.Mul) }
func (l *Lowerer) Div(v *vm.VM) error { return l.binary(v, vm.Div, "div", l.interp.Div) }
func (l *Lowerer) Rem(v *vm.VM) error { return l.binary(v, vm.Rem, "rem", l.interp.Rem) }

func (l *Lowerer) BitAnd(v *vm.VM) error { return l.binary(v, vm.BitAnd, "bitand", l.interp.BitAnd) }
func (l *Lowerer) BitOr(v *vm.VM) error  { return l.binary(v, vm.BitOr, "bitor", l.interp.BitOr) }
func (l *Lowerer) BitXor(v *vm.VM) error { return l.binary(v, vm.BitXor, "bitxor", l.interp.BitXor) }
func (l *Lowerer) Lsh(v *vm.VM) error    { return l.binary(v, vm.Lsh, "lsh", l.interp.Lsh) }
func (l *Lowerer) Lrsh(v *vm.VM) error   { return l.binary(v, vm.Lrsh, "lrsh", l.interp.Lrsh) }
func (l *Lowerer) Arsh(v *vm.VM) error   { return l.binary(v, vm.Arsh, "arsh", l.interp.Arsh) }

func (l *Lowerer) OrAssign(v *vm.VM) error {
	return l.binaryBool(v, vm.OrAssign, "or", l.interp.OrAssign)
}
func (l *Lowerer) AndAssign(v *vm.VM) error {
	return l.binaryBool(v, vm.AndAssign, "and", l.interp.AndAssign)
}
func (l *Lowerer) Not(v *vm.VM) error { return l.unaryBool(v, vm.Not, "not", l.interp.Not) }
func (l *Lowerer) Gez(v *vm.VM) error { return l.unaryBool(v, vm.Gez, "gez", l.interp.Gez) }

func (l *Lowerer) Move(v *vm.VM, imm vm.Word) error {
	origin := originIP(v, vm.Move)
	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "move", Imm: imm, HasImm: true})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	return l.interp.Move(v, imm)
}

func (l *Lowerer) Load(v *vm.VM) error {
	origin := originIP(v, vm.Load)
	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Unknown)
		l.ipIndex[origin] = l.emit(Inst{Op: "load", Dst: d})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.pushShadow(d)
	return l.interp.Load(v)
}

func (l *Lowerer) Store(v *vm.VM) error {
	origin := originIP(v, vm.Store)
	operand := l.popShadow()
	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "store", Operands: []int{operand}})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	return l.interp.Store(v)
}

func (l *Lowerer) Print(v *vm.VM) error {
	origin := originIP(v, vm.Print)
	operand := l.popShadow()
	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "print", Operands: []int{operand}})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	return l.interp.Print(v)
}

func (l *Lowerer) PrintChar(v *vm.VM) error {
	origin := originIP(v, vm.PrintChar)
	operand := l.popShadow()
	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "printchar", Operands: []int{operand}})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	return l.interp.PrintChar(v)
}

func (l *Lowerer) Deref(v *vm.VM) error {
	origin := originIP(v, vm.Deref)
	old := l.currentPtrTemp()
	l.ptrHistoryShadow = append(l.ptrHistoryShadow, old)

	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Ptr)
		l.ipIndex[origin] = l.emit(Inst{Op: "deref", Dst: d, Operands: []int{old}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.ptrTemp = d
	return l.interp.Deref(v)
}

func (l *Lowerer) Refer(v *vm.VM) error {
	origin := originIP(v, vm.Refer)
	n := len(l.ptrHistoryShadow)
	if n == 0 {
		panic(ErrNoOperand)
	}
	popped := l.ptrHistoryShadow[n-1]
	l.ptrHistoryShadow = l.ptrHistoryShadow[:n-1]

	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Ptr)
		l.ipIndex[origin] = l.emit(Inst{Op: "refer", Dst: d, Operands: []int{popped}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.ptrTemp = d
	return l.interp.Refer(v)
}

func (l *Lowerer) Where(v *vm.VM) error {
	origin := originIP(v, vm.Where)
	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Ptr)
		l.ipIndex[origin] = l.emit(Inst{Op: "where", Dst: d})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.pushShadow(d)
	l.ptrTemp = d
	return l.interp.Where(v)
}

func (l *Lowerer) Offset(v *vm.VM, imm vm.Word) error {
	origin := originIP(v, vm.Offset)
	old := l.currentPtrTemp()
	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Ptr)
		l.ipIndex[origin] = l.emit(Inst{Op: "offset", Dst: d, Operands: []int{old}, Imm: imm, HasImm: true})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.ptrTemp = d
	return l.interp.Offset(v, imm)
}

func (l *Lowerer) Index(v *vm.VM) error {
	origin := originIP(v, vm.Index)
	old := l.currentPtrTemp()
	rec, seen := l.siteMemo[origin]
	var d, r int
	if !seen {
		r = l.newTemp(vm.Unknown)
		d = l.newTemp(vm.Ptr)
		l.ipIndex[origin] = l.emit(Inst{Op: "index", Dst: d, Operands: []int{old, r}})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: r}
	} else {
		d, r = rec.dst, rec.extra
	}
	l.ptrTemp = d
	return l.interp.Index(v)
}

func (l *Lowerer) Set(v *vm.VM, t vm.TypeTag, imm vm.Word) error {
	origin := originIP(v, vm.Set)
	var ptrSrc int
	if id, ok := l.peekShadow(); ok {
		ptrSrc = id
	} else {
		ptrSrc = l.currentPtrTemp()
	}

	rec, seen := l.siteMemo[origin]
	var valTemp int
	if !seen {
		valTemp = l.newTemp(t)
		l.emit(Inst{Op: "const", Dst: valTemp, Type: t, Imm: imm, HasImm: true})
		l.ipIndex[origin] = l.emit(Inst{Op: "set", Operands: []int{ptrSrc, valTemp}})
		l.siteMemo[origin] = &siteRecord{dst: valTemp, extra: -1}
	} else {
		valTemp = rec.dst
	}
	_ = valTemp
	return l.interp.Set(v, t, imm)
}

func (l *Lowerer) Function(v *vm.VM, idx vm.Word) error {
	lbl := l.labelForFunc(int(idx))
	l.emit(Inst{Op: "label", Target: lbl})
	l.blockStack = append(l.blockStack, tacBlock{kind: "function"})
	return l.interp.Function(v, idx)
}

func (l *Lowerer) Call(v *vm.VM, idx vm.Word) error {
	origin := originIP(v, vm.Call)
	lbl := l.labelForFunc(int(idx))
	rec, seen := l.siteMemo[origin]
	var d int
	if !seen {
		d = l.newTemp(vm.Unknown)
		l.ipIndex[origin] = l.emit(Inst{Op: "call", Dst: d, Target: lbl})
		l.siteMemo[origin] = &siteRecord{dst: d, extra: -1}
	} else {
		d = rec.dst
	}
	l.pushShadow(d)
	return l.interp.Call(v, idx)
}

func (l *Lowerer) Return(v *vm.VM) error {
	origin := originIP(v, vm.Return)
	hadVal := v.SP() > v.FP()
	if hadVal {
		l.popShadow()
	}
	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "ret", Dst: -1})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	return l.interp.Return(v)
}

// If's real counterpart reaches the else opcode, when there is one, only
// when the true branch is live (interp.Else then always skips past the
// matching endblock), and never reaches it when the false branch is live
// (interp.If itself skips straight over it). So else_lbl is emitted by If
// (false branch), Else (true branch) or, for an if with no else, EndBlock;
// end_lbl by Else or EndBlock — each guarded by the shared siteRecord flags
// so neither label is ever skipped or doubled.
func (l *Lowerer) If(v *vm.VM) error {
	origin := originIP(v, vm.If)
	cond := l.popShadow()
	condVal, _ := v.PeekValue()

	rec, seen := l.siteMemo[origin]
	if !seen {
		elseLbl := l.newLabel()
		endLbl := l.newLabel()
		l.ipIndex[origin] = l.emit(Inst{Op: "jz", Operands: []int{cond}, Target: elseLbl})
		rec = &siteRecord{dst: -1, extra: -1, elseLbl: elseLbl, endLbl: endLbl}
		l.siteMemo[origin] = rec
	}
	// Mirror vm.Interpreter.If: a false condition with no else skips past
	// the endblock, so no block stays open for it.
	if condVal != 0 {
		l.blockStack = append(l.blockStack, tacBlock{kind: "if", rec: rec})
	} else if _, hitElse := vm.ScanForwardPastBlock(v.Code, v.IP(), true); hitElse {
		l.blockStack = append(l.blockStack, tacBlock{kind: "else", rec: rec})
	}

	if condVal == 0 && !rec.elseLblDone {
		l.emit(Inst{Op: "label", Target: rec.elseLbl})
		rec.elseLblDone = true
	}
	return l.interp.If(v)
}

func (l *Lowerer) Else(v *vm.VM) error {
	origin := originIP(v, vm.Else)
	n := len(l.blockStack)
	if n == 0 {
		panic(ErrUnknownBlockKind)
	}
	top := l.blockStack[n-1]
	l.blockStack = l.blockStack[:n-1]
	rec := top.rec

	if _, seen := l.siteMemo[origin]; !seen {
		l.ipIndex[origin] = l.emit(Inst{Op: "jmp", Target: rec.endLbl})
		l.siteMemo[origin] = &siteRecord{dst: -1, extra: -1}
	}
	if !rec.elseLblDone {
		l.emit(Inst{Op: "label", Target: rec.elseLbl})
		rec.elseLblDone = true
	}
	if !rec.endLblDone {
		l.emit(Inst{Op: "label", Target: rec.endLbl})
		rec.endLblDone = true
	}
	return l.interp.Else(v)
}

func (l *Lowerer) While(v *vm.VM, condIP vm.Word) error {
	origin := originIP(v, vm.While)
	cond := l.popShadow()
	condVal, _ := v.PeekValue()

	rec, seen := l.siteMemo[origin]
	if !seen {
		var condLbl int
		if tacIdx, ok := l.ipIndex[int(condIP)]; ok {
			condLbl = l.newLabel()
			l.insertLabelAt(tacIdx, condLbl)
			l.ipLabel[int(condIP)] = condLbl
		} else {
			condLbl = l.newLabel()
			log.Printf("tac: while at vm-ip %d: no tac index recorded for condition ip %d, using floating label", origin, condIP)
		}
		endLbl := l.newLabel()
		l.emit(Inst{Op: "jz", Operands: []int{cond}, Target: endLbl})
		rec = &siteRecord{dst: -1, extra: -1, condLbl: condLbl, endLbl: endLbl}
		l.siteMemo[origin] = rec
	}

	if condVal == 0 {
		// the loop body never ran on this visit, so EndBlock never gets
		// dispatched for it either; close it out here instead.
		if !rec.endLblDone {
			l.emit(Inst{Op: "label", Target: rec.endLbl})
			rec.endLblDone = true
		}
		return l.interp.While(v, condIP)
	}

	// The loop body falls through to this same while opcode every
	// iteration, so a re-entry for the loop already on top of the block
	// stack must not push a second marker - mirrors vm.Interpreter.While.
	if n := len(l.blockStack); n == 0 || l.blockStack[n-1].kind != "while" || l.blockStack[n-1].rec != rec {
		l.blockStack = append(l.blockStack, tacBlock{kind: "while", rec: rec})
	}
	return l.interp.While(v, condIP)
}

func (l *Lowerer) EndBlock(v *vm.VM) error {
	origin := originIP(v, vm.EndBlock)
	n := len(l.blockStack)
	if n == 0 {
		panic(ErrUnknownBlockKind)
	}
	top := l.blockStack[n-1]
	rec := top.rec

	switch top.kind {
	case "while":
		if !rec.endLblDone {
			l.emit(Inst{Op: "jmp", Target: rec.condLbl})
			l.ipIndex[origin] = l.emit(Inst{Op: "label", Target: rec.endLbl})
			rec.endLblDone = true
		}
		// no pop: matches the interpreter's non-popping while loop-back.
	case "if", "else":
		l.blockStack = l.blockStack[:n-1]
		// an if with no else: its jz target falls on the endblock
		if !rec.elseLblDone {
			l.emit(Inst{Op: "label", Target: rec.elseLbl})
			rec.elseLblDone = true
		}
		if !rec.endLblDone {
			l.ipIndex[origin] = l.emit(Inst{Op: "label", Target: rec.endLbl})
			rec.endLblDone = true
		}
	case "function":
		l.blockStack = l.blockStack[:n-1]
	default:
		panic(ErrUnknownBlockKind)
	}
	return l.interp.EndBlock(v)
}

func (l *Lowerer) Halt(v *vm.VM) error { return l.interp.Halt(v) }
