// Package classfile parses JVM class files far enough to decode method
// bodies into instruction streams.
package classfile

import (
	"errors"
	"fmt"
)

const classMagic = 0xCAFEBABE

var ErrInvalidMagic = errors.New("invalid magic number")

// Parse parses raw class file bytes. Truncated data, unknown constant pool
// tags and dangling constant pool references are errors.
func Parse(data []byte) (*ClassFile, error) {
	r := newReader(data)
	cf := &ClassFile{}

	magic, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("%w: 0x%X (expected 0xCAFEBABE)", ErrInvalidMagic, magic)
	}

	if cf.MinorVersion, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if cf.MajorVersion, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	cpCount, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	if cf.ConstantPool, err = parseConstantPool(r, cpCount); err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}

	if cf.AccessFlags, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	if cf.ThisClass, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if cf.SuperClass, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}

	interfacesCount, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	for i := 0; i < int(interfacesCount); i++ {
		idx, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, idx)
	}

	if cf.Fields, err = parseMembers(r, cf.ConstantPool, "field"); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMembers(r, cf.ConstantPool, "method"); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	if cf.Attributes, err = parseAttributes(r, cf.ConstantPool); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}

	return cf, nil
}

func parseMembers(r *reader, pool []ConstantPoolEntry, kind string) ([]MemberInfo, error) {
	count, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("reading %s count: %w", kind, err)
	}

	var members []MemberInfo
	for i := 0; i < int(count); i++ {
		var m MemberInfo

		if m.AccessFlags, err = r.u16(); err != nil {
			return nil, fmt.Errorf("reading %s %d access flags: %w", kind, i, err)
		}
		nameIndex, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("reading %s %d name index: %w", kind, i, err)
		}
		descIndex, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("reading %s %d descriptor index: %w", kind, i, err)
		}

		if m.Name, err = GetUtf8(pool, nameIndex); err != nil {
			return nil, fmt.Errorf("resolving %s %d name: %w", kind, i, err)
		}
		if m.Descriptor, err = GetUtf8(pool, descIndex); err != nil {
			return nil, fmt.Errorf("resolving %s %d descriptor: %w", kind, i, err)
		}

		if m.Attributes, err = parseAttributes(r, pool); err != nil {
			return nil, fmt.Errorf("parsing %s %d attributes: %w", kind, i, err)
		}

		members = append(members, m)
	}
	return members, nil
}

func parseAttributes(r *reader, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	count, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("reading attributes count: %w", err)
	}

	var attrs []AttributeInfo
	for i := 0; i < int(count); i++ {
		nameIndex, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		length, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		if uint64(length) > uint64(r.remaining()) {
			return nil, fmt.Errorf("attribute %d length %d: %w", i, length, ErrTruncated)
		}
		data, err := r.bytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d data: %w", i, err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}

		attrs = append(attrs, AttributeInfo{Name: name, Data: data})
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	r := newReader(data)
	c := &CodeAttribute{}

	var err error
	if c.MaxStack, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading max_stack: %w", err)
	}
	if c.MaxLocals, err = r.u16(); err != nil {
		return nil, fmt.Errorf("reading max_locals: %w", err)
	}
	codeLength, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("reading code_length: %w", err)
	}
	if uint64(codeLength) > uint64(r.remaining()) {
		return nil, fmt.Errorf("code_length %d: %w", codeLength, ErrTruncated)
	}
	if c.Code, err = r.bytes(int(codeLength)); err != nil {
		return nil, fmt.Errorf("reading code: %w", err)
	}

	exTableLen, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("reading exception table length: %w", err)
	}
	for i := 0; i < int(exTableLen); i++ {
		var h ExceptionHandler
		if h.StartPC, err = r.u16(); err != nil {
			return nil, fmt.Errorf("reading exception handler %d: %w", i, err)
		}
		if h.EndPC, err = r.u16(); err != nil {
			return nil, fmt.Errorf("reading exception handler %d: %w", i, err)
		}
		if h.HandlerPC, err = r.u16(); err != nil {
			return nil, fmt.Errorf("reading exception handler %d: %w", i, err)
		}
		if h.CatchType, err = r.u16(); err != nil {
			return nil, fmt.Errorf("reading exception handler %d: %w", i, err)
		}
		c.ExceptionHandlers = append(c.ExceptionHandlers, h)
	}

	attrs, err := parseAttributes(r, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing Code attributes: %w", err)
	}

	for _, attr := range attrs {
		if attr.Name != "LineNumberTable" {
			continue
		}
		lines, err := parseLineNumberTable(attr.Data)
		if err != nil {
			return nil, fmt.Errorf("parsing LineNumberTable: %w", err)
		}
		c.LineNumbers = append(c.LineNumbers, lines...)
	}

	return c, nil
}

func parseLineNumberTable(data []byte) ([]LineNumber, error) {
	r := newReader(data)
	count, err := r.u16()
	if err != nil {
		return nil, err
	}

	var lines []LineNumber
	for i := 0; i < int(count); i++ {
		var ln LineNumber
		if ln.StartPC, err = r.u16(); err != nil {
			return nil, err
		}
		if ln.Line, err = r.u16(); err != nil {
			return nil, err
		}
		lines = append(lines, ln)
	}
	return lines, nil
}

// Code parses the Code attribute of m. Methods without one (abstract,
// native) return nil. The attribute is parsed on every call, so a malformed
// body only fails the method that owns it.
func (cf *ClassFile) Code(m *MemberInfo) (*CodeAttribute, error) {
	for _, attr := range m.Attributes {
		if attr.Name != "Code" {
			continue
		}

		code, err := parseCodeAttribute(attr.Data, cf.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("parsing Code attribute for %s%s: %w", m.Name, m.Descriptor, err)
		}
		return code, nil
	}
	return nil, nil
}

// ClassName returns the fully qualified name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MemberInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}
