package classfile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dutchcoders/nekoshield/bytecode"
)

var ErrInvalidOpcode = errors.New("invalid opcode")

// Instructions decodes the Code attribute of m into an instruction stream.
// Line markers from the LineNumberTable are emitted as pseudo instructions
// ahead of the instruction they annotate. Methods without code (abstract,
// native) yield an empty stream.
func (cf *ClassFile) Instructions(m *MemberInfo) ([]bytecode.Instruction, error) {
	attr, err := cf.Code(m)
	if err != nil {
		return nil, err
	} else if attr == nil {
		return nil, nil
	}

	lines := append([]LineNumber(nil), attr.LineNumbers...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].StartPC < lines[j].StartPC })

	r := newReader(attr.Code)

	var insns []bytecode.Instruction
	for r.remaining() > 0 {
		pc := r.offset

		for len(lines) > 0 && int(lines[0].StartPC) <= pc {
			insns = append(insns, bytecode.Line(int32(lines[0].Line)))
			lines = lines[1:]
		}

		insn, err := cf.decodeInstruction(r, pc)
		if err != nil {
			return nil, fmt.Errorf("decoding %s%s at pc %d: %w", m.Name, m.Descriptor, pc, err)
		}

		insns = append(insns, insn)
	}

	return insns, nil
}

func (cf *ClassFile) decodeInstruction(r *reader, pc int) (bytecode.Instruction, error) {
	b, err := r.u8()
	if err != nil {
		return bytecode.Instruction{}, err
	}

	op := bytecode.Opcode(b)

	switch op {
	case bytecode.OpBipush:
		v, err := r.u8()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.IntInsn(op, int32(int8(v))), nil

	case bytecode.OpSipush:
		v, err := r.u16()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.IntInsn(op, int32(int16(v))), nil

	case bytecode.OpNewarray:
		v, err := r.u8()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.IntInsn(op, int32(v)), nil

	case bytecode.OpNew, bytecode.OpAnewarray, bytecode.OpCheckcast, bytecode.OpInstanceof:
		idx, err := r.u16()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		name, err := GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return bytecode.Instruction{}, fmt.Errorf("%s: %w", op, err)
		}
		return bytecode.TypeInsn(op, name), nil

	case bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic, bytecode.OpInvokeinterface:
		idx, err := r.u16()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		if op == bytecode.OpInvokeinterface {
			// count, 0
			if err := r.skip(2); err != nil {
				return bytecode.Instruction{}, err
			}
		}
		ref, err := ResolveMethodref(cf.ConstantPool, idx)
		if err != nil {
			return bytecode.Instruction{}, fmt.Errorf("%s: %w", op, err)
		}
		return bytecode.MethodInsn(op, ref.Owner, ref.Name, ref.Descriptor), nil

	case bytecode.OpWide:
		inner, err := r.u8()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		innerOp := bytecode.Opcode(inner)
		n := 2
		switch {
		case innerOp == bytecode.OpIinc:
			n = 4
		case innerOp >= bytecode.OpIload && innerOp <= bytecode.OpAload,
			innerOp >= bytecode.OpIstore && innerOp <= bytecode.OpAstore,
			innerOp == bytecode.OpRet:
		default:
			return bytecode.Instruction{}, fmt.Errorf("%w: wide %s", ErrInvalidOpcode, innerOp)
		}
		if err := r.skip(n); err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Plain(innerOp), nil

	case bytecode.OpTableswitch, bytecode.OpLookupswitch:
		if err := skipSwitch(r, op, pc); err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Plain(op), nil
	}

	n := bytecode.OperandSize(op)
	if n < 0 {
		return bytecode.Instruction{}, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, b)
	}
	if err := r.skip(n); err != nil {
		return bytecode.Instruction{}, err
	}
	return bytecode.Plain(op), nil
}

// skipSwitch skips the operands of a tableswitch or lookupswitch. Operands
// start at the next 4 byte boundary relative to the start of the code.
func skipSwitch(r *reader, op bytecode.Opcode, pc int) error {
	pad := (4 - (pc+1)%4) % 4
	if err := r.skip(pad); err != nil {
		return err
	}

	// default
	if _, err := r.u32(); err != nil {
		return err
	}

	if op == bytecode.OpTableswitch {
		low, err := r.u32()
		if err != nil {
			return err
		}
		high, err := r.u32()
		if err != nil {
			return err
		}
		n := int64(int32(high)) - int64(int32(low)) + 1
		if n < 0 || n*4 > int64(r.remaining()) {
			return fmt.Errorf("tableswitch range %d..%d: %w", int32(low), int32(high), ErrTruncated)
		}
		return r.skip(int(n * 4))
	}

	npairs, err := r.u32()
	if err != nil {
		return err
	}
	n := int64(int32(npairs))
	if n < 0 || n*8 > int64(r.remaining()) {
		return fmt.Errorf("lookupswitch npairs %d: %w", int32(npairs), ErrTruncated)
	}
	return r.skip(int(n * 8))
}
