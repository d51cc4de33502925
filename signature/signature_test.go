package signature

import (
	"testing"

	"github.com/dutchcoders/nekoshield/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	a = bytecode.Plain(bytecode.OpDup)
	b = bytecode.IntInsn(bytecode.OpBipush, 7)
	c = bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Runtime", "getRuntime", "()Ljava/lang/Runtime;")
	x = bytecode.Plain(bytecode.OpPop)
)

func seq(insns ...bytecode.Instruction) []bytecode.Instruction {
	return insns
}

func TestNewEmpty(t *testing.T) {
	_, err := New("empty")
	assert.ErrorIs(t, err, ErrEmptySignature)

	assert.Panics(t, func() { MustNew("empty") })
}

func TestSignatureIsImmutable(t *testing.T) {
	insns := seq(a, b)
	sig, err := New("ab", insns...)
	require.NoError(t, err)

	insns[0] = x
	got := sig.Instructions()
	got[1] = x

	assert.Equal(t, seq(a, b), sig.Instructions())
	assert.Equal(t, 2, sig.Len())
	assert.Equal(t, "ab", sig.Name())
}

func TestFailureTable(t *testing.T) {
	sig := MustNew("aaba", a, a, b, a)
	assert.Equal(t, []int{0, 1, 0, 1}, sig.failure)

	sig = MustNew("abab", a, b, a, b)
	assert.Equal(t, []int{0, 0, 1, 2}, sig.failure)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		sig    []bytecode.Instruction
		stream []bytecode.Instruction
		reset  bool
		kmp    bool
	}{
		{"exact", seq(a, b, c), seq(a, b, c), true, true},
		{"embedded", seq(a, b, c), seq(x, x, a, b, c, x), true, true},
		{"substituted middle", seq(a, b, c), seq(a, x, c), false, false},
		{"substituted operand", seq(a, b, c), seq(a, bytecode.IntInsn(bytecode.OpBipush, 8), c), false, false},
		{"gap", seq(a, b, c), seq(a, b, x, c), false, false},
		{"wrong order", seq(a, b, c), seq(c, b, a), false, false},
		{"second attempt", seq(a, b, c), seq(a, b, x, a, b, c), true, true},
		// the failed a is not tested again against the start of the signature
		{"overlap", seq(a, b), seq(a, a, b), false, true},
		{"overlap longer prefix", seq(a, a, b), seq(a, a, a, b), false, true},
		{"overlap repeated", seq(a, b, a, c), seq(a, b, a, b, a, c), false, true},
		{"single", seq(c), seq(x, c), true, true},
		{"empty stream", seq(a), nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := MustNew(tt.name, tt.sig...)
			assert.Equal(t, tt.reset, ResetMatcher{}.Match(tt.stream, sig), "reset")
			assert.Equal(t, tt.kmp, FailureMatcher{}.Match(tt.stream, sig), "kmp")
		})
	}
}

func TestShorterStreamNeverMatches(t *testing.T) {
	for _, sig := range Library() {
		insns := sig.Instructions()
		for n := 1; n < len(insns); n++ {
			assert.False(t, ResetMatcher{}.Match(insns[:n], sig), "%s prefix %d", sig.Name(), n)
			assert.False(t, FailureMatcher{}.Match(insns[:n], sig), "%s prefix %d", sig.Name(), n)
		}
	}
}

func TestLibraryMatchesItself(t *testing.T) {
	for _, sig := range Library() {
		stream := append(seq(x), sig.Instructions()...)
		stream = append(stream, x)

		assert.True(t, ResetMatcher{}.Match(stream, sig), sig.Name())
		assert.True(t, FailureMatcher{}.Match(stream, sig), sig.Name())
	}
}

func TestLibraryOrder(t *testing.T) {
	names := []string{}
	for _, sig := range Library() {
		names = append(names, sig.Name())
	}
	assert.Equal(t, []string{"ReflectiveLoader", "Base64Exec", "ObfuscatedBytes"}, names)

	assert.Equal(t, 15, ReflectiveLoader.Len())
	assert.Equal(t, 7, Base64Exec.Len())
	assert.Equal(t, 53, ObfuscatedBytes.Len())
}

func TestLibraryIsCopied(t *testing.T) {
	sigs := Library()
	sigs[0] = nil
	sigs[1] = ObfuscatedBytes

	assert.Equal(t, []*Signature{ReflectiveLoader, Base64Exec, ObfuscatedBytes}, Library())
}

func TestLookup(t *testing.T) {
	sig, err := Lookup("Base64Exec")
	require.NoError(t, err)
	assert.Same(t, Base64Exec, sig)

	_, err = Lookup("base64exec")
	assert.ErrorContains(t, err, `unknown signature "base64exec"`)
}

func TestObfuscatedBytes(t *testing.T) {
	insns := ObfuscatedBytes.Instructions()

	assert.Equal(t, seq(
		bytecode.IntInsn(bytecode.OpBipush, 56),
		bytecode.Plain(bytecode.OpBastore),
		bytecode.Plain(bytecode.OpDup),
		bytecode.Plain(bytecode.OpIconst1),
		bytecode.IntInsn(bytecode.OpBipush, 53),
	), insns[:5])

	assert.Equal(t, seq(
		bytecode.Plain(bytecode.OpDup),
		bytecode.IntInsn(bytecode.OpBipush, 13),
		bytecode.IntInsn(bytecode.OpBipush, 48),
	), insns[len(insns)-3:])
}

func TestMatcherByName(t *testing.T) {
	m, err := MatcherByName("")
	require.NoError(t, err)
	assert.Equal(t, "reset", m.Name())

	m, err = MatcherByName("kmp")
	require.NoError(t, err)
	assert.IsType(t, FailureMatcher{}, m)

	_, err = MatcherByName("fuzzy")
	assert.Error(t, err)

	assert.Equal(t, []string{"reset", "kmp"}, MatcherNames())
}
