package classfile

import (
	"fmt"

	"github.com/dutchcoders/nekoshield/bytecode"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// parseConstantPool reads constant_pool_count-1 entries. The returned slice
// is 1-indexed: index 0 and the slot after each long or double are nil.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := 1; i < int(count); i++ {
		tag, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}

		switch tag {
		case TagUtf8:
			length, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading Utf8 length at index %d: %w", i, err)
			}
			b, err := r.bytes(int(length))
			if err != nil {
				return nil, fmt.Errorf("reading Utf8 bytes at index %d: %w", i, err)
			}
			pool[i] = &ConstantUtf8{Value: string(b)}

		case TagInteger:
			v, err := r.u32()
			if err != nil {
				return nil, fmt.Errorf("reading Integer at index %d: %w", i, err)
			}
			pool[i] = &ConstantInteger{Value: int32(v)}

		case TagFloat:
			if err := r.skip(4); err != nil {
				return nil, fmt.Errorf("reading Float at index %d: %w", i, err)
			}
			pool[i] = &constantOther{tag: tag}

		case TagLong, TagDouble:
			if _, err := r.u64(); err != nil {
				return nil, fmt.Errorf("reading Long/Double at index %d: %w", i, err)
			}
			pool[i] = &constantOther{tag: tag}
			i++ // takes 2 slots

		case TagClass:
			idx, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading Class at index %d: %w", i, err)
			}
			pool[i] = &ConstantClass{NameIndex: idx}

		case TagString:
			idx, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading String at index %d: %w", i, err)
			}
			pool[i] = &ConstantString{StringIndex: idx}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIndex, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading ref class_index at index %d: %w", i, err)
			}
			natIndex, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading ref name_and_type_index at index %d: %w", i, err)
			}
			pool[i] = &ConstantRef{tag: tag, ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagNameAndType:
			nameIndex, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading NameAndType name_index at index %d: %w", i, err)
			}
			descIndex, err := r.u16()
			if err != nil {
				return nil, fmt.Errorf("reading NameAndType descriptor_index at index %d: %w", i, err)
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			// reference_kind (u1) + reference_index (u2)
			if err := r.skip(3); err != nil {
				return nil, fmt.Errorf("reading MethodHandle at index %d: %w", i, err)
			}
			pool[i] = &constantOther{tag: tag}

		case TagMethodType, TagModule, TagPackage:
			if err := r.skip(2); err != nil {
				return nil, fmt.Errorf("reading constant (tag %d) at index %d: %w", tag, i, err)
			}
			pool[i] = &constantOther{tag: tag}

		case TagDynamic, TagInvokeDynamic:
			// bootstrap_method_attr_index (u2) + name_and_type_index (u2)
			if err := r.skip(4); err != nil {
				return nil, fmt.Errorf("reading Dynamic/InvokeDynamic at index %d: %w", i, err)
			}
			pool[i] = &constantOther{tag: tag}

		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

func entry(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	e, err := entry(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := e.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, e.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	e, err := entry(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := e.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class (tag=%d)", classIndex, e.Tag())
	}
	return GetUtf8(pool, class.NameIndex)
}

// ResolveMethodref resolves a CONSTANT_Methodref or
// CONSTANT_InterfaceMethodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (bytecode.MethodRef, error) {
	e, err := entry(pool, index)
	if err != nil {
		return bytecode.MethodRef{}, err
	}
	ref, ok := e.(*ConstantRef)
	if !ok || (ref.tag != TagMethodref && ref.tag != TagInterfaceMethodref) {
		return bytecode.MethodRef{}, fmt.Errorf("constant pool index %d is not a method reference (tag=%d)", index, e.Tag())
	}

	owner, err := GetClassName(pool, ref.ClassIndex)
	if err != nil {
		return bytecode.MethodRef{}, fmt.Errorf("resolving method owner: %w", err)
	}

	e, err = entry(pool, ref.NameAndTypeIndex)
	if err != nil {
		return bytecode.MethodRef{}, fmt.Errorf("resolving NameAndType: %w", err)
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return bytecode.MethodRef{}, fmt.Errorf("constant pool index %d is not NameAndType", ref.NameAndTypeIndex)
	}

	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return bytecode.MethodRef{}, fmt.Errorf("resolving method name: %w", err)
	}
	desc, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return bytecode.MethodRef{}, fmt.Errorf("resolving method descriptor: %w", err)
	}

	return bytecode.MethodRef{Owner: owner, Name: name, Descriptor: desc}, nil
}
