// Package classtest assembles minimal class files and jars for tests.
package classtest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dutchcoders/nekoshield/bytecode"
)

const (
	tagUtf8               = 1
	tagClass              = 7
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
)

type method struct {
	name, desc string
	code       []byte
	lines      []uint16 // start pcs, one line per instruction
	abstract   bool
	truncated  bool
}

// Builder builds a class file with a constant pool derived from the
// instructions of its methods.
type Builder struct {
	name        string
	lineNumbers bool

	pool    [][]byte
	indices map[string]uint16

	methods []method
}

// NewClass returns a builder for a public class extending java/lang/Object.
func NewClass(name string) *Builder {
	return &Builder{
		name:    name,
		indices: map[string]uint16{},
	}
}

// WithLineNumbers attaches a LineNumberTable with one line per instruction
// to every method added afterwards.
func (b *Builder) WithLineNumbers() *Builder {
	b.lineNumbers = true
	return b
}

func (b *Builder) add(key string, data []byte) uint16 {
	if idx, ok := b.indices[key]; ok {
		return idx
	}
	b.pool = append(b.pool, data)
	idx := uint16(len(b.pool))
	b.indices[key] = idx
	return idx
}

// Utf8 returns the pool index of a Utf8 constant.
func (b *Builder) Utf8(s string) uint16 {
	data := []byte{tagUtf8}
	data = binary.BigEndian.AppendUint16(data, uint16(len(s)))
	data = append(data, s...)
	return b.add("utf8:"+s, data)
}

// ClassRef returns the pool index of a Class constant.
func (b *Builder) ClassRef(name string) uint16 {
	nameIdx := b.Utf8(name)
	return b.add("class:"+name, binary.BigEndian.AppendUint16([]byte{tagClass}, nameIdx))
}

func (b *Builder) nameAndType(name, desc string) uint16 {
	data := []byte{tagNameAndType}
	data = binary.BigEndian.AppendUint16(data, b.Utf8(name))
	data = binary.BigEndian.AppendUint16(data, b.Utf8(desc))
	return b.add("nat:"+name+":"+desc, data)
}

// MethodRef returns the pool index of a Methodref constant, or an
// InterfaceMethodref when iface is set.
func (b *Builder) MethodRef(owner, name, desc string, iface bool) uint16 {
	tag := byte(tagMethodref)
	if iface {
		tag = tagInterfaceMethodref
	}
	data := []byte{tag}
	data = binary.BigEndian.AppendUint16(data, b.ClassRef(owner))
	data = binary.BigEndian.AppendUint16(data, b.nameAndType(name, desc))
	return b.add(fmt.Sprintf("ref%d:%s.%s%s", tag, owner, name, desc), data)
}

// Method adds a method whose code is the encoding of insns. Line pseudo
// instructions are ignored; use WithLineNumbers instead.
func (b *Builder) Method(name, desc string, insns ...bytecode.Instruction) *Builder {
	m := method{name: name, desc: desc}
	for _, insn := range insns {
		if insn.IsPseudo() {
			continue
		}
		m.lines = append(m.lines, uint16(len(m.code)))
		m.code = append(m.code, b.encode(insn)...)
	}
	b.methods = append(b.methods, m)
	return b
}

// RawMethod adds a method with hand assembled code.
func (b *Builder) RawMethod(name, desc string, code []byte) *Builder {
	b.methods = append(b.methods, method{name: name, desc: desc, code: code})
	return b
}

// TruncatedMethod adds a method whose Code attribute claims more code than it
// holds. The class itself stays well formed.
func (b *Builder) TruncatedMethod(name, desc string) *Builder {
	b.methods = append(b.methods, method{name: name, desc: desc, code: []byte{byte(bytecode.OpReturn)}, truncated: true})
	return b
}

// AbstractMethod adds a method without a Code attribute.
func (b *Builder) AbstractMethod(name, desc string) *Builder {
	b.methods = append(b.methods, method{name: name, desc: desc, abstract: true})
	return b
}

func (b *Builder) encode(insn bytecode.Instruction) []byte {
	op := insn.Opcode
	out := []byte{byte(op)}

	switch insn.Kind {
	case bytecode.KindType:
		return binary.BigEndian.AppendUint16(out, b.ClassRef(insn.Type))
	case bytecode.KindMethod:
		iface := op == bytecode.OpInvokeinterface
		out = binary.BigEndian.AppendUint16(out, b.MethodRef(insn.Method.Owner, insn.Method.Name, insn.Method.Descriptor, iface))
		if iface {
			out = append(out, 1, 0)
		}
		return out
	case bytecode.KindInt:
		if op == bytecode.OpSipush {
			return binary.BigEndian.AppendUint16(out, uint16(int16(insn.Value)))
		}
		return append(out, byte(insn.Value))
	}

	n := bytecode.OperandSize(op)
	if n < 0 {
		panic(fmt.Sprintf("classtest: cannot encode %s, use RawMethod", op))
	}
	return append(out, make([]byte, n)...)
}

// Bytes returns the assembled class file.
func (b *Builder) Bytes() []byte {
	thisIdx := b.ClassRef(b.name)
	superIdx := b.ClassRef("java/lang/Object")

	type encodedMethod struct {
		nameIdx, descIdx uint16
		attrs            []byte
		attrCount        uint16
	}

	var methods []encodedMethod
	for _, m := range b.methods {
		em := encodedMethod{nameIdx: b.Utf8(m.name), descIdx: b.Utf8(m.desc)}
		if !m.abstract {
			em.attrs = b.codeAttribute(m)
			em.attrCount = 1
		}
		methods = append(methods, em)
	}

	var buf bytes.Buffer
	w := func(v interface{}) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}

	w(uint32(0xCAFEBABE))
	w(uint16(0))  // minor
	w(uint16(52)) // major, java 8
	w(uint16(len(b.pool) + 1))
	for _, e := range b.pool {
		buf.Write(e)
	}
	w(uint16(0x0021)) // public super
	w(thisIdx)
	w(superIdx)
	w(uint16(0)) // interfaces
	w(uint16(0)) // fields
	w(uint16(len(methods)))
	for _, m := range methods {
		w(uint16(0x0009)) // public static
		w(m.nameIdx)
		w(m.descIdx)
		w(m.attrCount)
		buf.Write(m.attrs)
	}
	w(uint16(0)) // class attributes

	return buf.Bytes()
}

func (b *Builder) codeAttribute(m method) []byte {
	codeIdx := b.Utf8("Code")

	var nested []byte
	var nestedCount uint16
	if b.lineNumbers && len(m.lines) > 0 {
		lntIdx := b.Utf8("LineNumberTable")
		table := binary.BigEndian.AppendUint16(nil, uint16(len(m.lines)))
		for i, pc := range m.lines {
			table = binary.BigEndian.AppendUint16(table, pc)
			table = binary.BigEndian.AppendUint16(table, uint16(i+1))
		}
		nested = binary.BigEndian.AppendUint16(nested, lntIdx)
		nested = binary.BigEndian.AppendUint32(nested, uint32(len(table)))
		nested = append(nested, table...)
		nestedCount = 1
	}

	body := binary.BigEndian.AppendUint16(nil, 16) // max_stack
	body = binary.BigEndian.AppendUint16(body, 16) // max_locals
	if m.truncated {
		body = binary.BigEndian.AppendUint32(body, 0xffffffff)
	} else {
		body = binary.BigEndian.AppendUint32(body, uint32(len(m.code)))
	}
	body = append(body, m.code...)
	body = binary.BigEndian.AppendUint16(body, 0) // exception table
	body = binary.BigEndian.AppendUint16(body, nestedCount)
	body = append(body, nested...)

	attr := binary.BigEndian.AppendUint16(nil, codeIdx)
	attr = binary.BigEndian.AppendUint32(attr, uint32(len(body)))
	return append(attr, body...)
}

// Entry is a named archive member.
type Entry struct {
	Name string
	Data []byte
}

// Jar returns a zip archive holding entries in order.
func Jar(entries ...Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WriteJar writes Jar(entries...) to path.
func WriteJar(path string, entries ...Entry) error {
	return os.WriteFile(path, Jar(entries...), 0644)
}
