package signature

import (
	"fmt"

	"github.com/dutchcoders/nekoshield/bytecode"
)

// Matcher reports whether a signature occurs as a run of consecutive
// instructions in a normalized method stream.
type Matcher interface {
	Name() string
	Match(stream []bytecode.Instruction, sig *Signature) bool
}

// ResetMatcher advances a cursor into the signature on every structurally
// equal instruction and drops all partial progress on a mismatch. The
// mismatching instruction is not tested again against the start of the
// signature, so overlapping candidates such as [A B] in [A A B] are missed.
type ResetMatcher struct{}

func (ResetMatcher) Name() string { return "reset" }

func (ResetMatcher) Match(stream []bytecode.Instruction, sig *Signature) bool {
	if len(stream) < len(sig.insns) {
		return false
	}

	c := 0
	for _, insn := range stream {
		if insn.Equal(sig.insns[c]) {
			c++
		} else {
			c = 0
		}

		if c == len(sig.insns) {
			return true
		}
	}
	return false
}

// FailureMatcher falls back along the signature's failure table on a
// mismatch and finds every contiguous occurrence.
type FailureMatcher struct{}

func (FailureMatcher) Name() string { return "kmp" }

func (FailureMatcher) Match(stream []bytecode.Instruction, sig *Signature) bool {
	if len(stream) < len(sig.insns) {
		return false
	}

	c := 0
	for _, insn := range stream {
		for c > 0 && !insn.Equal(sig.insns[c]) {
			c = sig.failure[c-1]
		}
		if insn.Equal(sig.insns[c]) {
			c++
		}

		if c == len(sig.insns) {
			return true
		}
	}
	return false
}

var matchers = []Matcher{
	ResetMatcher{},
	FailureMatcher{},
}

// MatcherByName returns the matcher registered under name. The empty name
// selects the reset matcher.
func MatcherByName(name string) (Matcher, error) {
	if name == "" {
		return ResetMatcher{}, nil
	}

	for _, m := range matchers {
		if m.Name() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown matcher %q", name)
}

// MatcherNames lists the registered matcher names.
func MatcherNames() []string {
	names := make([]string, 0, len(matchers))
	for _, m := range matchers {
		names = append(names, m.Name())
	}
	return names
}
