// Package bytecode models JVM instructions as the signature matcher sees
// them: an opcode plus an optional structural operand.
package bytecode

import "fmt"

// Kind discriminates the operand payload of an Instruction.
type Kind uint8

const (
	KindPlain Kind = iota
	KindType
	KindMethod
	KindInt
	KindLine
)

// MethodRef identifies an invoked method.
type MethodRef struct {
	Owner      string
	Name       string
	Descriptor string
}

func (m MethodRef) String() string {
	return m.Owner + "." + m.Name + m.Descriptor
}

// Instruction is a single decoded instruction. Only the field selected by
// Kind is meaningful; the others are zero.
type Instruction struct {
	Opcode Opcode
	Kind   Kind

	Type   string
	Method MethodRef
	Value  int32
}

// Plain returns an instruction without operand payload.
func Plain(op Opcode) Instruction {
	return Instruction{Opcode: op, Kind: KindPlain}
}

// TypeInsn returns an instruction referencing a type (new, anewarray,
// checkcast, instanceof).
func TypeInsn(op Opcode, typ string) Instruction {
	return Instruction{Opcode: op, Kind: KindType, Type: typ}
}

// MethodInsn returns an invoke instruction.
func MethodInsn(op Opcode, owner, name, descriptor string) Instruction {
	return Instruction{Opcode: op, Kind: KindMethod, Method: MethodRef{Owner: owner, Name: name, Descriptor: descriptor}}
}

// IntInsn returns an instruction with an integer operand (bipush, sipush,
// newarray).
func IntInsn(op Opcode, v int32) Instruction {
	return Instruction{Opcode: op, Kind: KindInt, Value: v}
}

// Line returns a line number pseudo instruction.
func Line(line int32) Instruction {
	return Instruction{Opcode: None, Kind: KindLine, Value: line}
}

// IsPseudo reports whether the instruction has no concrete opcode.
func (i Instruction) IsPseudo() bool {
	return i.Opcode == None
}

// Equal reports structural equality: equal opcodes and, for operand bearing
// instructions, equal operands. Strings compare case-sensitively.
func (i Instruction) Equal(o Instruction) bool {
	if i.Opcode != o.Opcode || i.Kind != o.Kind {
		return false
	}

	switch i.Kind {
	case KindType:
		return i.Type == o.Type
	case KindMethod:
		return i.Method == o.Method
	case KindInt, KindLine:
		return i.Value == o.Value
	default:
		return true
	}
}

func (i Instruction) String() string {
	switch i.Kind {
	case KindType:
		return fmt.Sprintf("%s %s", i.Opcode, i.Type)
	case KindMethod:
		return fmt.Sprintf("%s %s", i.Opcode, i.Method)
	case KindInt:
		return fmt.Sprintf("%s %d", i.Opcode, i.Value)
	case KindLine:
		return fmt.Sprintf("line %d", i.Value)
	default:
		return i.Opcode.String()
	}
}
