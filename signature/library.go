package signature

import (
	"fmt"

	"github.com/dutchcoders/nekoshield/bytecode"
)

const (
	stringInit = "([B)V"
)

// ReflectiveLoader loads a class by a name assembled from byte arrays,
// constructs it from a URL and invokes a method looked up by name.
var ReflectiveLoader = MustNew("ReflectiveLoader",
	bytecode.TypeInsn(bytecode.OpNew, "java/lang/String"),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.TypeInsn(bytecode.OpNew, "java/lang/String"),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/Class", "getConstructor", "([Ljava/lang/Class;)Ljava/lang/reflect/Constructor;"),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/net/URL", "<init>", "(Ljava/lang/String;Ljava/lang/String;ILjava/lang/String;)V"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/reflect/Constructor", "newInstance", "([Ljava/lang/Object;)Ljava/lang/Object;"),
	bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;ZLjava/lang/ClassLoader;)Ljava/lang/Class;"),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/Class", "getMethod", "(Ljava/lang/String;[Ljava/lang/Class;)Ljava/lang/reflect/Method;"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/reflect/Method", "invoke", "(Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;"),
)

// Base64Exec runs a command line decoded from Base64.
var Base64Exec = MustNew("Base64Exec",
	bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Runtime", "getRuntime", "()Ljava/lang/Runtime;"),
	bytecode.MethodInsn(bytecode.OpInvokestatic, "java/util/Base64", "getDecoder", "()Ljava/util/Base64$Decoder;"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/String", "concat", "(Ljava/lang/String;)Ljava/lang/String;"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/util/Base64$Decoder", "decode", "(Ljava/lang/String;)[B"),
	bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/String", "<init>", stringInit),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/io/File", "getPath", "()Ljava/lang/String;"),
	bytecode.MethodInsn(bytecode.OpInvokevirtual, "java/lang/Runtime", "exec", "([Ljava/lang/String;)Ljava/lang/Process;"),
)

// ObfuscatedBytes fills a byte array with the characters of "85.217.144.130"
// one element at a time.
var ObfuscatedBytes = MustNew("ObfuscatedBytes", obfuscatedBytes()...)

func obfuscatedBytes() []bytecode.Instruction {
	const host = "85.217.144.130"

	var insns []bytecode.Instruction
	for i, ch := range []byte(host[:len(host)-1]) {
		if i > 0 {
			insns = append(insns, bytecode.Plain(bytecode.OpDup), index(i))
		}
		insns = append(insns, bytecode.IntInsn(bytecode.OpBipush, int32(ch)), bytecode.Plain(bytecode.OpBastore))
	}

	last := len(host) - 1
	return append(insns, bytecode.Plain(bytecode.OpDup), index(last), bytecode.IntInsn(bytecode.OpBipush, int32(host[last])))
}

// index returns the shortest push of a small array index.
func index(i int) bytecode.Instruction {
	if i <= 5 {
		return bytecode.Plain(bytecode.OpIconst0 + bytecode.Opcode(i))
	}
	return bytecode.IntInsn(bytecode.OpBipush, int32(i))
}

var library = []*Signature{
	ReflectiveLoader,
	Base64Exec,
	ObfuscatedBytes,
}

// Library returns the built-in signatures in the order they are tested.
func Library() []*Signature {
	return append([]*Signature{}, library...)
}

// Lookup returns the built-in signature registered under name.
func Lookup(name string) (*Signature, error) {
	for _, sig := range library {
		if sig.Name() == name {
			return sig, nil
		}
	}
	return nil, fmt.Errorf("unknown signature %q", name)
}
