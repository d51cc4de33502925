package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Instruction
		want bool
	}{
		{"plain same opcode", Plain(OpDup), Plain(OpDup), true},
		{"plain different opcode", Plain(OpDup), Plain(OpPop), false},
		{"type equal", TypeInsn(OpNew, "java/lang/String"), TypeInsn(OpNew, "java/lang/String"), true},
		{"type differs", TypeInsn(OpNew, "java/lang/String"), TypeInsn(OpNew, "java/lang/Object"), false},
		{"type case sensitive", TypeInsn(OpNew, "java/lang/String"), TypeInsn(OpNew, "java/lang/string"), false},
		{"method equal",
			MethodInsn(OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;"),
			MethodInsn(OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;"), true},
		{"method descriptor differs",
			MethodInsn(OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;"),
			MethodInsn(OpInvokestatic, "java/lang/Class", "forName", "(Ljava/lang/String;ZLjava/lang/ClassLoader;)Ljava/lang/Class;"), false},
		{"method opcode differs",
			MethodInsn(OpInvokestatic, "a", "b", "()V"),
			MethodInsn(OpInvokevirtual, "a", "b", "()V"), false},
		{"int equal", IntInsn(OpBipush, 56), IntInsn(OpBipush, 56), true},
		{"int differs", IntInsn(OpBipush, 56), IntInsn(OpBipush, 53), false},
		{"kind differs", IntInsn(OpBipush, 0), Plain(OpBipush), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestNormalize(t *testing.T) {
	in := []Instruction{
		Line(10),
		Plain(OpAload1),
		Plain(OpLstore3),
		Line(11),
		Plain(OpLdcW),
		Plain(OpGotoW),
		IntInsn(OpBipush, 7),
	}

	got := Normalize(in)

	assert.Equal(t, []Instruction{
		Plain(OpAload),
		Plain(OpLstore),
		Plain(OpLdc),
		Plain(OpGoto),
		IntInsn(OpBipush, 7),
	}, got)

	// input untouched
	assert.Equal(t, OpAload1, in[1].Opcode)
}

func TestOperandSize(t *testing.T) {
	assert.Equal(t, 0, OperandSize(OpDup))
	assert.Equal(t, 1, OperandSize(OpBipush))
	assert.Equal(t, 2, OperandSize(OpSipush))
	assert.Equal(t, 2, OperandSize(OpInvokespecial))
	assert.Equal(t, 3, OperandSize(OpMultianewarray))
	assert.Equal(t, 4, OperandSize(OpInvokeinterface))
	assert.Equal(t, Variable, OperandSize(OpTableswitch))
	assert.Equal(t, Variable, OperandSize(OpWide))
	assert.Equal(t, Unknown, OperandSize(0xca))
	assert.Equal(t, Unknown, OperandSize(0xff))
	assert.False(t, Valid(None))
}

func TestString(t *testing.T) {
	assert.Equal(t, "invokespecial java/lang/String.<init>([B)V",
		MethodInsn(OpInvokespecial, "java/lang/String", "<init>", "([B)V").String())
	assert.Equal(t, "bipush 56", IntInsn(OpBipush, 56).String())
	assert.Equal(t, "new java/lang/String", TypeInsn(OpNew, "java/lang/String").String())
	assert.Equal(t, "bastore", Plain(OpBastore).String())
	assert.Equal(t, "jsr_w", OpJsrW.String())
}
