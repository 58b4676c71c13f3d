package tac

import (
	"fmt"
	"io"
	"strconv"

	"github.com/elias-michaias/rrvm/vm"
)

type block struct {
	label int
	goals []Inst
}

// splitBlocks groups a flat instruction stream into labelled clauses: a
// block begins at a label instruction or, absent one, at program start or
// right after a ret (spec.md §4.6 / §6.4). Label id 0 names every such
// implicit block.
func splitBlocks(prog []Inst) []block {
	var blocks []block
	var cur *block
	terminated := false

	for _, in := range prog {
		if in.Op == "label" {
			blocks = append(blocks, block{label: in.Target})
			cur = &blocks[len(blocks)-1]
			terminated = false
			continue
		}
		if cur == nil {
			blocks = append(blocks, block{label: 0})
			cur = &blocks[len(blocks)-1]
		} else if terminated {
			blocks = append(blocks, block{label: 0})
			cur = &blocks[len(blocks)-1]
			terminated = false
		}
		cur.goals = append(cur.goals, in)
		if in.Op == "ret" {
			terminated = true
		}
	}
	return blocks
}

// Serialize writes prog as block-structured, labelled clauses: one
// "lN :-" header per block, its goals comma-separated and the last one
// period-terminated (spec.md §6.4). A block with no goals (a label followed
// directly by another label, or by the end of the program) is not written.
// An empty program writes nothing.
func Serialize(w io.Writer, prog []Inst) error {
	for _, blk := range splitBlocks(prog) {
		if len(blk.goals) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "l%d :-\n", blk.label); err != nil {
			return err
		}
		for i, g := range blk.goals {
			sep := ","
			if i == len(blk.goals)-1 {
				sep = "."
			}
			if _, err := fmt.Fprintf(w, "  %s%s\n", goalText(g), sep); err != nil {
				return err
			}
		}
	}
	return nil
}

func goalText(in Inst) string {
	switch in.Op {
	case "const":
		return fmt.Sprintf("const(t%d, %s, %s)", in.Dst, in.Type, immText(in.Imm, in.Type))
	case "add", "sub", "mul", "div", "rem", "bitand", "bitor", "bitxor", "lsh", "lrsh", "arsh":
		return fmt.Sprintf("%s(t%d, %s, t%d, t%d)", in.Op, in.Dst, in.Type, in.Operands[0], in.Operands[1])
	case "or", "and":
		return fmt.Sprintf("%s(t%d, bool, t%d, t%d)", in.Op, in.Dst, in.Operands[0], in.Operands[1])
	case "not", "gez":
		return fmt.Sprintf("%s(t%d, bool, t%d)", in.Op, in.Dst, in.Operands[0])
	case "move":
		return fmt.Sprintf("move(%s)", strconv.FormatInt(int64(in.Imm), 10))
	case "load":
		return fmt.Sprintf("load(t%d)", in.Dst)
	case "store":
		return fmt.Sprintf("store(t%d)", in.Operands[0])
	case "print":
		return fmt.Sprintf("print(t%d)", in.Operands[0])
	case "printchar":
		return fmt.Sprintf("printchar(t%d)", in.Operands[0])
	case "deref":
		return fmt.Sprintf("deref(t%d, t%d)", in.Dst, in.Operands[0])
	case "refer":
		return fmt.Sprintf("refer(t%d, t%d)", in.Dst, in.Operands[0])
	case "where":
		return fmt.Sprintf("where(t%d)", in.Dst)
	case "offset":
		return fmt.Sprintf("offset(t%d, t%d, %s)", in.Dst, in.Operands[0], strconv.FormatInt(int64(in.Imm), 10))
	case "index":
		return fmt.Sprintf("index(t%d, t%d, t%d)", in.Dst, in.Operands[0], in.Operands[1])
	case "set":
		return fmt.Sprintf("set(t%d, t%d)", in.Operands[0], in.Operands[1])
	case "jmp":
		return fmt.Sprintf("jmp(l%d)", in.Target)
	case "jz":
		return fmt.Sprintf("jz(t%d, l%d)", in.Operands[0], in.Target)
	case "call":
		return fmt.Sprintf("call(l%d, t%d)", in.Target, in.Dst)
	case "ret":
		return "ret"
	default:
		return fmt.Sprintf("?%s?", in.Op)
	}
}

// immText renders an immediate the way the serializer prints constants:
// floats as a hex bit pattern with a trailing decimal comment, everything
// else as a plain decimal (spec.md §6.4).
func immText(w vm.Word, t vm.TypeTag) string {
	if t.IsFloat() {
		if t == vm.F32 {
			return fmt.Sprintf("0x%x /* %v */", uint32(w), w.Float32())
		}
		return fmt.Sprintf("0x%x /* %v */", uint64(w), w.Float64())
	}
	if t.IsSigned() {
		return strconv.FormatInt(w.Signed64(t), 10)
	}
	return strconv.FormatUint(w.Unsigned64(t), 10)
}
