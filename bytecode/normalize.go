package bytecode

// Canonical maps opcode aliases onto the form the JVM tree API reports:
// the implicit-index load/store forms onto their indexed opcode, the wide
// constant loads onto ldc and the wide jumps onto goto/jsr.
func Canonical(op Opcode) Opcode {
	switch {
	case op >= OpIload0 && op <= OpAload3:
		return OpIload + (op-OpIload0)/4
	case op >= OpIstore0 && op <= OpAstore3:
		return OpIstore + (op-OpIstore0)/4
	case op == OpLdcW || op == OpLdc2W:
		return OpLdc
	case op == OpGotoW:
		return OpGoto
	case op == OpJsrW:
		return OpJsr
	}
	return op
}

// Normalize returns the method instruction stream used for matching: pseudo
// instructions are dropped and opcodes are canonicalized. The input is not
// modified.
func Normalize(insns []Instruction) []Instruction {
	stream := make([]Instruction, 0, len(insns))
	for _, insn := range insns {
		if insn.IsPseudo() {
			continue
		}

		insn.Opcode = Canonical(insn.Opcode)
		stream = append(stream, insn)
	}
	return stream
}
