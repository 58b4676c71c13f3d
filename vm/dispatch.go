package vm

// Dispatch runs v against b until halt or the code is exhausted, calling
// exactly one Backend method per opcode (spec.md §4.1). It is purely
// structural: the only thing it knows about an opcode is how many
// immediate words follow it (the widths OpCode.EncodedWords reports, written
// out per case in Step) and which Backend method
// to call. All semantics — arithmetic, control flow, type checking — live
// in the Backend, which is what lets the tac package reuse this same loop
// to lower a program instead of running it.
func Dispatch(v *VM, b Backend) error {
	for {
		halted, err := Step(v, b)
		if err != nil || halted {
			return err
		}
	}
}

// Step executes exactly one opcode and reports whether it was halt (or the
// code ran out). It is the building block RunProgramDebugMode single-steps
// with; Dispatch is just this in a loop.
//
// Faults raised by a hook (panic(*Fault), see errors.go) are recovered here
// and returned as an error, mirroring the teacher's top-of-run recover that
// reports vm.errcode instead of crashing the process.
func Step(v *VM, b Backend) (halted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*Fault)
			if !ok {
				panic(r)
			}
			err = f
		}
	}()

	if v.atEnd() {
		return true, nil
	}

	op := OpCode(v.Code[v.ip])

	switch op {
	case Nop:
		v.ip++
		err = b.Nop(v)
	case Push:
		t := TypeTag(v.Code[v.ip+1])
		imm := v.Code[v.ip+2]
		v.ip += 3
		err = b.Push(v, t, imm)
	case Add:
		v.ip++
		err = b.Add(v)
	case Sub:
		v.ip++
		err = b.Sub(v)
	case Mul:
		v.ip++
		err = b.Mul(v)
	case Div:
		v.ip++
		err = b.Div(v)
	case Rem:
		v.ip++
		err = b.Rem(v)
	case Move:
		imm := v.Code[v.ip+1]
		v.ip += 2
		err = b.Move(v, imm)
	case Load:
		v.ip++
		err = b.Load(v)
	case Store:
		v.ip++
		err = b.Store(v)
	case Print:
		v.ip++
		err = b.Print(v)
	case PrintChar:
		v.ip++
		err = b.PrintChar(v)
	case Deref:
		v.ip++
		err = b.Deref(v)
	case Refer:
		v.ip++
		err = b.Refer(v)
	case Where:
		v.ip++
		err = b.Where(v)
	case Offset:
		imm := v.Code[v.ip+1]
		v.ip += 2
		err = b.Offset(v, imm)
	case Index:
		v.ip++
		err = b.Index(v)
	case Set:
		t := TypeTag(v.Code[v.ip+1])
		imm := v.Code[v.ip+2]
		v.ip += 3
		err = b.Set(v, t, imm)
	case Function:
		idx := v.Code[v.ip+1]
		v.ip += 2
		err = b.Function(v, idx)
	case Call:
		idx := v.Code[v.ip+1]
		v.ip += 2
		err = b.Call(v, idx)
	case Return:
		v.ip++
		err = b.Return(v)
	case While:
		condIP := v.Code[v.ip+1]
		v.ip += 2
		err = b.While(v, condIP)
	case If:
		v.ip++
		err = b.If(v)
	case Else:
		v.ip++
		err = b.Else(v)
	case EndBlock:
		v.ip++
		err = b.EndBlock(v)
	case OrAssign:
		v.ip++
		err = b.OrAssign(v)
	case AndAssign:
		v.ip++
		err = b.AndAssign(v)
	case Not:
		v.ip++
		err = b.Not(v)
	case BitAnd:
		v.ip++
		err = b.BitAnd(v)
	case BitOr:
		v.ip++
		err = b.BitOr(v)
	case BitXor:
		v.ip++
		err = b.BitXor(v)
	case Lsh:
		v.ip++
		err = b.Lsh(v)
	case Lrsh:
		v.ip++
		err = b.Lrsh(v)
	case Arsh:
		v.ip++
		err = b.Arsh(v)
	case Gez:
		v.ip++
		err = b.Gez(v)
	case Halt:
		v.ip++
		err = b.Halt(v)
		return true, err
	default:
		v.Fault(ErrUnknownOpcode)
	}

	return false, err
}
