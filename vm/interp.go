package vm

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
)

// Interpreter is the Backend that actually executes a program: arithmetic
// is computed, tape cells are read and written, control flow really
// branches. It is the "evaluate values" half of the dispatcher; the tac
// package's Lowerer is the "emit IR instead" half, driven by the identical
// Dispatch loop over the identical bytecode.
type Interpreter struct {
	// Out is where print/printchar write. Defaults to os.Stdout.
	Out io.Writer
}

// NewInterpreter returns an Interpreter writing to os.Stdout.
func NewInterpreter() *Interpreter {
	return &Interpreter{Out: os.Stdout}
}

var _ Backend = (*Interpreter)(nil)

func (it *Interpreter) out() io.Writer {
	if it.Out != nil {
		return it.Out
	}
	return os.Stdout
}

func (it *Interpreter) Nop(v *VM) error { return nil }

func (it *Interpreter) Push(v *VM, t TypeTag, imm Word) error {
	v.pushValue(imm.Truncate(t), t)
	return nil
}

// --- arithmetic ---

func requireSameType(v *VM, lt, rt TypeTag) {
	if lt != rt {
		v.Fault(ErrTypeMismatch)
	}
}

// binaryArith pops r then l (both of the same type, else fault), applies
// the operation appropriate to that type's kind, and pushes the result
// typed the same as the operands.
func (it *Interpreter) binaryArith(v *VM, intOp func(l, r int64) int64, uintOp func(l, r uint64) uint64, floatOp func(l, r float64) float64) error {
	r, rt := v.popValue()
	l, lt := v.popValue()
	requireSameType(v, lt, rt)

	switch {
	case lt.IsFloat():
		if floatOp == nil {
			v.Fault(ErrTypeMismatch)
		}
		if lt == F32 {
			v.pushValue(WordFromFloat32(float32(floatOp(float64(l.Float32()), float64(r.Float32())))), lt)
		} else {
			v.pushValue(WordFromFloat64(floatOp(l.Float64(), r.Float64())), lt)
		}
	case lt.IsSigned():
		v.pushValue(Word(intOp(l.Signed64(lt), r.Signed64(lt))).Truncate(lt), lt)
	default:
		v.pushValue(Word(uintOp(l.Unsigned64(lt), r.Unsigned64(lt))).Truncate(lt), lt)
	}
	return nil
}

func (it *Interpreter) Add(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l + r },
		func(l, r uint64) uint64 { return l + r },
		func(l, r float64) float64 { return l + r })
}

func (it *Interpreter) Sub(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l - r },
		func(l, r uint64) uint64 { return l - r },
		func(l, r float64) float64 { return l - r })
}

func (it *Interpreter) Mul(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l * r },
		func(l, r uint64) uint64 { return l * r },
		func(l, r float64) float64 { return l * r })
}

func (it *Interpreter) Div(v *VM) error {
	r, rt := v.popValue()
	l, lt := v.popValue()
	requireSameType(v, lt, rt)

	if lt.IsFloat() {
		if lt == F32 {
			v.pushValue(WordFromFloat32(l.Float32()/r.Float32()), lt)
		} else {
			v.pushValue(WordFromFloat64(l.Float64()/r.Float64()), lt)
		}
		return nil
	}
	if lt.IsSigned() {
		rv := r.Signed64(lt)
		if rv == 0 {
			v.Fault(ErrDivideByZero)
		}
		v.pushValue(Word(l.Signed64(lt)/rv).Truncate(lt), lt)
	} else {
		rv := r.Unsigned64(lt)
		if rv == 0 {
			v.Fault(ErrDivideByZero)
		}
		v.pushValue(Word(l.Unsigned64(lt)/rv).Truncate(lt), lt)
	}
	return nil
}

func (it *Interpreter) Rem(v *VM) error {
	r, rt := v.popValue()
	l, lt := v.popValue()
	requireSameType(v, lt, rt)

	if lt.IsFloat() {
		if lt == F32 {
			v.pushValue(WordFromFloat32(float32(modFloat(float64(l.Float32()), float64(r.Float32())))), lt)
		} else {
			v.pushValue(WordFromFloat64(modFloat(l.Float64(), r.Float64())), lt)
		}
		return nil
	}
	if lt.IsSigned() {
		rv := r.Signed64(lt)
		if rv == 0 {
			v.Fault(ErrDivideByZero)
		}
		v.pushValue(Word(l.Signed64(lt)%rv).Truncate(lt), lt)
	} else {
		rv := r.Unsigned64(lt)
		if rv == 0 {
			v.Fault(ErrDivideByZero)
		}
		v.pushValue(Word(l.Unsigned64(lt)%rv).Truncate(lt), lt)
	}
	return nil
}

func modFloat(a, b float64) float64 {
	q := a / b
	return a - float64(int64(q))*b
}

// --- tape/memory ---

func (it *Interpreter) Move(v *VM, imm Word) error {
	v.checkTape(v.tp + int(imm))
	v.tp += int(imm)
	return nil
}

func (it *Interpreter) Load(v *VM) error {
	w, t := v.tapeLoad()
	v.pushValue(w, t)
	return nil
}

func (it *Interpreter) Store(v *VM) error {
	w, t := v.popValue()
	v.tapeStore(w, t)
	return nil
}

func (it *Interpreter) Print(v *VM) error {
	w, t := v.popValue()
	fmt.Fprint(it.out(), formatWord(w, t))
	return nil
}

func (it *Interpreter) PrintChar(v *VM) error {
	w, _ := v.popValue()
	fmt.Fprintf(it.out(), "%c", rune(w))
	return nil
}

// formatWord renders a tagged Word the way Print does: integers per their
// signedness, floats via their bit-cast value, bool/ptr as signed integers.
func formatWord(w Word, t TypeTag) string {
	switch {
	case t.IsFloat():
		if t == F32 {
			return strconv.FormatFloat(float64(w.Float32()), 'g', -1, 32)
		}
		return strconv.FormatFloat(w.Float64(), 'g', -1, 64)
	case t.IsSigned():
		return strconv.FormatInt(w.Signed64(t), 10)
	default:
		return strconv.FormatUint(w.Unsigned64(t), 10)
	}
}

// --- pointer/refs ---

func (it *Interpreter) Deref(v *VM) error {
	v.pushPtrHistory(v.tp)
	target, _ := v.tapeLoad()
	v.checkTape(int(target))
	v.tp = int(target)
	return nil
}

func (it *Interpreter) Refer(v *VM) error {
	v.tp = v.popPtrHistory()
	return nil
}

func (it *Interpreter) Where(v *VM) error {
	v.pushValue(Word(v.tp), Ptr)
	return nil
}

func (it *Interpreter) Offset(v *VM, imm Word) error {
	v.checkTape(v.tp + int(imm))
	v.tp += int(imm)
	return nil
}

func (it *Interpreter) Index(v *VM) error {
	w, _ := v.tapeLoad()
	v.checkTape(v.tp + int(w))
	v.tp += int(w)
	return nil
}

func (it *Interpreter) Set(v *VM, t TypeTag, imm Word) error {
	v.tapeStore(imm.Truncate(t), t)
	return nil
}

// --- functions/control ---

func (it *Interpreter) Function(v *VM, idx Word) error {
	bodyIP := v.ip
	v.defineFunction(int(idx), bodyIP)
	target, _ := ScanForwardPastBlock(v.Code, bodyIP, false)
	v.ip = target
	return nil
}

func (it *Interpreter) Call(v *VM, idx Word) error {
	target := v.functionIP(int(idx))
	v.pushFrame(Frame{ReturnIP: v.ip, OldFP: v.fp})
	v.fp = v.sp
	v.ip = target
	return nil
}

func (it *Interpreter) Return(v *VM) error {
	var retVal Word
	retType := I64
	if v.sp > v.fp {
		retVal, retType = v.popValue()
	}
	f := v.popFrame()
	v.sp = v.fp
	v.fp = f.OldFP
	v.ip = f.ReturnIP
	v.pushValue(retVal, retType)
	return nil
}

func (it *Interpreter) While(v *VM, condIP Word) error {
	cond, _ := v.popValue()
	if cond == 0 {
		target, _ := ScanForwardPastBlock(v.Code, v.ip, false)
		v.ip = target
		return nil
	}
	// The loop body falls through to this same while opcode every
	// iteration (it sits right after the cond_ip label), so a re-entry
	// for the loop already on top of the block stack must not push a
	// second marker - block_sp bounds nesting depth, not iteration count.
	if top, ok := v.peekBlock(); ok && top.Kind == BlockWhile && top.CondIP == int(condIP) {
		return nil
	}
	v.pushBlock(BlockEntry{Kind: BlockWhile, CondIP: int(condIP)})
	return nil
}

func (it *Interpreter) If(v *VM) error {
	cond, _ := v.popValue()
	if cond == 0 {
		target, hitElse := ScanForwardPastBlock(v.Code, v.ip, true)
		v.ip = target
		if hitElse {
			// the else body now runs, and its endblock pops this marker
			v.pushBlock(BlockEntry{Kind: BlockElse})
		}
		return nil
	}
	v.pushBlock(BlockEntry{Kind: BlockIf})
	return nil
}

func (it *Interpreter) Else(v *VM) error {
	target, _ := ScanForwardPastBlock(v.Code, v.ip, false)
	v.ip = target
	v.popBlock()
	return nil
}

func (it *Interpreter) EndBlock(v *VM) error {
	top, ok := v.peekBlock()
	if !ok {
		v.Fault(ErrBlockStackUnderflow)
	}
	if top.Kind == BlockWhile {
		v.ip = top.CondIP
		return nil
	}
	v.popBlock()
	return nil
}

// --- bitwise/logical ---

func (it *Interpreter) OrAssign(v *VM) error {
	return it.boolBinary(v, func(l, r bool) bool { return l || r })
}

func (it *Interpreter) AndAssign(v *VM) error {
	return it.boolBinary(v, func(l, r bool) bool { return l && r })
}

func (it *Interpreter) boolBinary(v *VM, op func(l, r bool) bool) error {
	r, rt := v.popValue()
	l, lt := v.popValue()
	requireSameType(v, lt, rt)
	result := op(l != 0, r != 0)
	v.pushValue(boolWord(result), Bool)
	return nil
}

func boolWord(b bool) Word {
	if b {
		return 1
	}
	return 0
}

func (it *Interpreter) Not(v *VM) error {
	w, _ := v.popValue()
	v.pushValue(boolWord(w == 0), Bool)
	return nil
}

func (it *Interpreter) BitAnd(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l & r },
		func(l, r uint64) uint64 { return l & r },
		nil)
}

func (it *Interpreter) BitOr(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l | r },
		func(l, r uint64) uint64 { return l | r },
		nil)
}

func (it *Interpreter) BitXor(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l ^ r },
		func(l, r uint64) uint64 { return l ^ r },
		nil)
}

func (it *Interpreter) Lsh(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l << uint(r) },
		func(l, r uint64) uint64 { return l << r },
		nil)
}

func (it *Interpreter) Lrsh(v *VM) error {
	r, rt := v.popValue()
	l, lt := v.popValue()
	requireSameType(v, lt, rt)
	v.pushValue(Word(l.Unsigned64(lt)>>uint(r.Unsigned64(lt))).Truncate(lt), lt)
	return nil
}

func (it *Interpreter) Arsh(v *VM) error {
	return it.binaryArith(v,
		func(l, r int64) int64 { return l >> uint(r) },
		func(l, r uint64) uint64 { return l >> r },
		nil)
}

func (it *Interpreter) Gez(v *VM) error {
	w, t := v.popValue()
	v.pushValue(boolWord(w.Signed64(t) >= 0), Bool)
	return nil
}

func (it *Interpreter) Halt(v *VM) error { return nil }

// RunProgram executes v with it to completion, disabling the garbage
// collector for the duration the way the teacher's RunProgram does: the
// VM's stack and tape are allocated up front in NewVM, so nothing in the
// hot dispatch loop should allocate, and a GC pause mid-loop buys nothing.
func RunProgram(v *VM, it *Interpreter) error {
	gcPercent := currentGCPercent()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	err := Dispatch(v, it)
	if err == ErrProgramFinished {
		return nil
	}
	return err
}

func currentGCPercent() int {
	if s, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return int(n)
		}
	}
	return 100
}
