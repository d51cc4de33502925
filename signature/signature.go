// Package signature holds the fixed instruction sequence signatures and the
// matchers that look for them in method instruction streams.
package signature

import (
	"errors"

	"github.com/dutchcoders/nekoshield/bytecode"
)

var ErrEmptySignature = errors.New("signature has no instructions")

// Signature is a named, ordered instruction template. It is immutable once
// constructed.
type Signature struct {
	name  string
	insns []bytecode.Instruction

	// failure[i] is the length of the longest proper prefix of insns[:i+1]
	// that is also a suffix of it.
	failure []int
}

// New returns a signature matching insns in order.
func New(name string, insns ...bytecode.Instruction) (*Signature, error) {
	if len(insns) == 0 {
		return nil, ErrEmptySignature
	}

	s := &Signature{
		name:  name,
		insns: append([]bytecode.Instruction(nil), insns...),
	}
	s.failure = failureTable(s.insns)
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(name string, insns ...bytecode.Instruction) *Signature {
	s, err := New(name, insns...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Signature) Name() string {
	return s.name
}

func (s *Signature) Len() int {
	return len(s.insns)
}

// Instructions returns a copy of the template.
func (s *Signature) Instructions() []bytecode.Instruction {
	return append([]bytecode.Instruction(nil), s.insns...)
}

func (s *Signature) String() string {
	return s.name
}

func failureTable(p []bytecode.Instruction) []int {
	f := make([]int, len(p))

	k := 0
	for i := 1; i < len(p); i++ {
		for k > 0 && !p[i].Equal(p[k]) {
			k = f[k-1]
		}
		if p[i].Equal(p[k]) {
			k++
		}
		f[i] = k
	}
	return f
}
