package asm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elias-michaias/rrvm/vm"
)

// Sentinel errors for the frontend (spec.md §7: "the frontend surfaces all
// errors as recoverable values"). Always wrapped with fmt.Errorf so the
// line number and offending text travel with the error while errors.Is
// still works against the sentinel.
var (
	ErrUnknownMnemonic     = errors.New("unknown mnemonic")
	ErrLabelRedefined      = errors.New("label redefined")
	ErrUnknownFunction     = errors.New("call to undefined function")
	ErrUnresolvedWhileLabel = errors.New("while references a label that is never defined")
	ErrBadImmediate        = errors.New("invalid immediate")
	ErrTrailingTokens      = errors.New("trailing tokens after label")
	ErrMissingOperand      = errors.New("missing operand")
	ErrTooManyFunctions    = errors.New("function table exceeds vm.MaxFunctions")
)

type label struct {
	pos     int
	defined bool
}

type function struct {
	idx     int
	defined bool
}

// Parser assembles RRVM textual source into bytecode, resolving label and
// function symbol tables and backpatching forward while references
// (spec.md §4.5).
type Parser struct {
	code     []vm.Word
	debugSym map[int]string

	labels       map[string]*label
	functions    map[string]*function
	nextFuncIdx  int
	whilePatches map[string][]int // label name -> code positions of the placeholder immediate

	lineNo int
}

// NewParser returns an empty Parser ready to assemble one program.
func NewParser() *Parser {
	return &Parser{
		debugSym:     make(map[int]string),
		labels:       make(map[string]*label),
		functions:    make(map[string]*function),
		whilePatches: make(map[string][]int),
	}
}

// Assemble reads an entire .rr source from r and returns the assembled
// bytecode plus a VM-IP -> source-line debug symbol map.
func Assemble(r io.Reader) ([]vm.Word, map[int]string, error) {
	p := NewParser()
	scanner := bufio.NewScanner(r)
	// Source lines can be long (e.g. many operands); grow the buffer.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		p.lineNo++
		if err := p.parseLine(scanner.Text()); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", p.lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	if err := p.finish(); err != nil {
		return nil, nil, err
	}

	return p.code, p.debugSym, nil
}

func (p *Parser) finish() error {
	for name, f := range p.functions {
		if !f.defined {
			return fmt.Errorf("function %q: %w", name, ErrUnknownFunction)
		}
	}
	for name, positions := range p.whilePatches {
		if len(positions) > 0 {
			return fmt.Errorf("label %q: %w", name, ErrUnresolvedWhileLabel)
		}
	}
	return nil
}

func (p *Parser) parseLine(raw string) error {
	tokens := LexLine(raw)
	if len(tokens) == 0 {
		return nil
	}

	first := tokens[0]
	if strings.HasSuffix(first, ":") && len(first) > 1 {
		if len(tokens) != 1 {
			return ErrTrailingTokens
		}
		return p.defineLabel(strings.TrimSuffix(first, ":"))
	}

	mnemonic := strings.ToLower(first)
	args := tokens[1:]

	p.recordOrigin(raw)

	switch mnemonic {
	case "nop":
		return p.emit0(vm.Nop)
	case "push":
		return p.emitTyped(vm.Push, args)
	case "set":
		return p.emitTyped(vm.Set, args)
	case "add":
		return p.emit0(vm.Add)
	case "sub":
		return p.emit0(vm.Sub)
	case "mul":
		return p.emit0(vm.Mul)
	case "div":
		return p.emit0(vm.Div)
	case "rem":
		return p.emit0(vm.Rem)
	case "move":
		return p.emitImm(vm.Move, args)
	case "offset":
		return p.emitImm(vm.Offset, args)
	case "load":
		return p.emit0(vm.Load)
	case "store":
		return p.emit0(vm.Store)
	case "print":
		return p.emit0(vm.Print)
	case "printchar":
		return p.emit0(vm.PrintChar)
	case "deref":
		return p.emit0(vm.Deref)
	case "refer":
		return p.emit0(vm.Refer)
	case "where":
		return p.emit0(vm.Where)
	case "index":
		return p.emit0(vm.Index)
	case "func":
		return p.defineFunction(args)
	case "call":
		return p.emitCall(args)
	case "ret", "return":
		return p.emit0(vm.Return)
	case "if":
		return p.emit0(vm.If)
	case "else":
		return p.emit0(vm.Else)
	case "end":
		return p.emit0(vm.EndBlock)
	case "while":
		return p.emitWhile(args)
	case "label":
		if len(args) != 1 {
			return fmt.Errorf("label: %w", ErrMissingOperand)
		}
		return p.defineLabel(args[0])
	case "halt":
		return p.emit0(vm.Halt)
	case "or":
		return p.emit0(vm.OrAssign)
	case "and":
		return p.emit0(vm.AndAssign)
	case "not":
		return p.emit0(vm.Not)
	case "bitand":
		return p.emit0(vm.BitAnd)
	case "bitor":
		return p.emit0(vm.BitOr)
	case "bitxor":
		return p.emit0(vm.BitXor)
	case "lsh":
		return p.emit0(vm.Lsh)
	case "lrsh":
		return p.emit0(vm.Lrsh)
	case "arsh":
		return p.emit0(vm.Arsh)
	case "gez":
		return p.emit0(vm.Gez)
	default:
		return fmt.Errorf("%q: %w", first, ErrUnknownMnemonic)
	}
}

func (p *Parser) recordOrigin(raw string) {
	p.debugSym[len(p.code)] = strings.TrimSpace(raw)
}

func (p *Parser) emit0(op vm.OpCode) error {
	p.code = append(p.code, vm.Word(op))
	return nil
}

func (p *Parser) emitImm(op vm.OpCode, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s: %w", op, ErrMissingOperand)
	}
	n, err := strconv.ParseInt(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, args[0], ErrBadImmediate)
	}
	p.code = append(p.code, vm.Word(op), vm.Word(n))
	return nil
}

func (p *Parser) emitTyped(op vm.OpCode, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%s: %w", op, ErrMissingOperand)
	}
	t, ok := vm.TypeTagFromName(strings.ToLower(args[0]))
	if !ok {
		return fmt.Errorf("%s: unknown type %q: %w", op, args[0], ErrBadImmediate)
	}
	imm, err := parseImmediate(args[1], t)
	if err != nil {
		return fmt.Errorf("%s %s %q: %w", op, args[0], args[1], err)
	}
	p.code = append(p.code, vm.Word(op), vm.Word(t), imm)
	return nil
}

// getOrCreateFunction looks up name's function table entry, allocating a
// fresh index if this is the first time name is seen. SPEC_FULL.md §10:
// exceeding vm.MaxFunctions is a parse error, not a VM fault, so the cap is
// enforced here rather than left to vm.VM.defineFunction's panic.
func (p *Parser) getOrCreateFunction(name string) (*function, error) {
	f, ok := p.functions[name]
	if !ok {
		if p.nextFuncIdx >= vm.MaxFunctions {
			return nil, fmt.Errorf("function %q: %w", name, ErrTooManyFunctions)
		}
		f = &function{idx: p.nextFuncIdx}
		p.nextFuncIdx++
		p.functions[name] = f
	}
	return f, nil
}

func (p *Parser) defineFunction(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("func: %w", ErrMissingOperand)
	}
	f, err := p.getOrCreateFunction(args[0])
	if err != nil {
		return err
	}
	if f.defined {
		return fmt.Errorf("function %q: %w", args[0], ErrLabelRedefined)
	}
	f.defined = true
	p.code = append(p.code, vm.Word(vm.Function), vm.Word(f.idx))
	return nil
}

func (p *Parser) emitCall(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("call: %w", ErrMissingOperand)
	}
	f, err := p.getOrCreateFunction(args[0])
	if err != nil {
		return err
	}
	p.code = append(p.code, vm.Word(vm.Call), vm.Word(f.idx))
	return nil
}

func (p *Parser) defineLabel(name string) error {
	l, ok := p.labels[name]
	if ok && l.defined {
		return fmt.Errorf("label %q: %w", name, ErrLabelRedefined)
	}
	if !ok {
		l = &label{}
		p.labels[name] = l
	}
	l.pos = len(p.code)
	l.defined = true

	for _, pos := range p.whilePatches[name] {
		p.code[pos] = vm.Word(l.pos)
	}
	delete(p.whilePatches, name)
	return nil
}

func (p *Parser) emitWhile(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("while: %w", ErrMissingOperand)
	}
	name := args[0]
	opPos := len(p.code)
	p.code = append(p.code, vm.Word(vm.While), 0)
	immPos := opPos + 1

	if l, ok := p.labels[name]; ok && l.defined {
		p.code[immPos] = vm.Word(l.pos)
		return nil
	}
	p.whilePatches[name] = append(p.whilePatches[name], immPos)
	return nil
}

// parseImmediate parses a single immediate token for push/set according to
// t: integer tags use decimal or C-hex (strconv base 0); float tags use a
// 0x-prefixed literal as a raw bit pattern and anything else as a decimal
// number bit-cast into the word (spec.md §4.5).
func parseImmediate(tok string, t vm.TypeTag) (vm.Word, error) {
	if t.IsFloat() {
		return parseFloatImmediate(tok, t)
	}

	if t.IsSigned() {
		n, err := strconv.ParseInt(tok, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w", ErrBadImmediate)
		}
		return vm.Word(n).Truncate(t), nil
	}

	n, err := strconv.ParseUint(tok, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w", ErrBadImmediate)
	}
	return vm.Word(n).Truncate(t), nil
}

func parseFloatImmediate(tok string, t vm.TypeTag) (vm.Word, error) {
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		bits, err := strconv.ParseUint(tok[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w", ErrBadImmediate)
		}
		return vm.Word(bits), nil
	}

	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w", ErrBadImmediate)
	}
	if t == vm.F32 {
		return vm.WordFromFloat32(float32(f)), nil
	}
	return vm.WordFromFloat64(f), nil
}
