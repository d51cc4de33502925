package classfile

import (
	"testing"

	"github.com/dutchcoders/nekoshield/bytecode"
	"github.com/dutchcoders/nekoshield/classfile/classtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassFile(t *testing.T) {
	data := classtest.NewClass("com/example/Hello").
		Method("main", "([Ljava/lang/String;)V",
			bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Runtime", "getRuntime", "()Ljava/lang/Runtime;"),
			bytecode.Plain(bytecode.OpPop),
			bytecode.Plain(bytecode.OpReturn),
		).
		AbstractMethod("run", "()V").
		Bytes()

	cf, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, uint16(52), cf.MajorVersion)

	name, err := cf.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "com/example/Hello", name)

	main := cf.FindMethod("main", "([Ljava/lang/String;)V")
	require.NotNil(t, main)
	code, err := cf.Code(main)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Len(t, code.Code, 5)

	run := cf.FindMethod("run", "()V")
	require.NotNil(t, run)
	code, err = cf.Code(run)
	require.NoError(t, err)
	assert.Nil(t, code)

	assert.Nil(t, cf.FindMethod("missing", "()V"))
}

func TestParseInvalidMagic(t *testing.T) {
	_, err := Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52})
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestParseTruncated(t *testing.T) {
	data := classtest.NewClass("com/example/Hello").
		Method("main", "()V", bytecode.Plain(bytecode.OpReturn)).
		Bytes()

	// every strict prefix is malformed
	for _, n := range []int{0, 3, 9, 20, len(data) / 2, len(data) - 1} {
		_, err := Parse(data[:n])
		assert.Error(t, err, "prefix %d", n)
	}
}

func TestParseUnknownConstantTag(t *testing.T) {
	data := []byte{
		0xCA, 0xFE, 0xBA, 0xBE,
		0, 0, 0, 52,
		0, 2, // pool count
		2, // tag 2 is unassigned
	}

	_, err := Parse(data)
	assert.ErrorContains(t, err, "unknown constant pool tag 2")
}

func TestParseHugeAttributeLength(t *testing.T) {
	data := classtest.NewClass("com/example/Hello").
		Method("main", "()V", bytecode.Plain(bytecode.OpReturn)).
		Bytes()

	cf, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, cf.Methods, 1)

	corrupt := append([]byte(nil), data...)
	// Code attribute length sits right before its body, which is followed
	// only by the class attributes count.
	codeLen := len(cf.Methods[0].Attributes[0].Data)
	off := len(data) - 2 - codeLen - 4
	corrupt[off], corrupt[off+1], corrupt[off+2], corrupt[off+3] = 0xff, 0xff, 0xff, 0xff

	_, err = Parse(corrupt)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseDefersCodeAttribute(t *testing.T) {
	data := classtest.NewClass("com/example/Hello").
		Method("ok", "()V", bytecode.Plain(bytecode.OpReturn)).
		TruncatedMethod("broken", "()V").
		Method("after", "()V", bytecode.Plain(bytecode.OpNop), bytecode.Plain(bytecode.OpReturn)).
		Bytes()

	cf, err := Parse(data)
	require.NoError(t, err)

	insns, err := cf.Instructions(cf.FindMethod("ok", "()V"))
	require.NoError(t, err)
	assert.Equal(t, []bytecode.Instruction{bytecode.Plain(bytecode.OpReturn)}, insns)

	_, err = cf.Instructions(cf.FindMethod("broken", "()V"))
	assert.ErrorIs(t, err, ErrTruncated)

	insns, err = cf.Instructions(cf.FindMethod("after", "()V"))
	require.NoError(t, err)
	assert.Len(t, insns, 2)
}
