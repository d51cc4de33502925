// Package detector scans class files and jar archives for the instruction
// sequences of the signature library.
package detector

import (
	"errors"
	"fmt"

	"github.com/dutchcoders/nekoshield/bytecode"
	"github.com/dutchcoders/nekoshield/classfile"
	"github.com/dutchcoders/nekoshield/signature"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("nekoshield/detector")

// DefaultMaxEntrySize bounds the size of a single class entry read into
// memory.
const DefaultMaxEntrySize = 64 << 20

type Detector struct {
	matcher      signature.Matcher
	library      []*signature.Signature
	maxEntrySize int64
}

type OptionFn func(*Detector) error

func WithMatcher(m signature.Matcher) OptionFn {
	return func(d *Detector) error {
		if m == nil {
			return errors.New("matcher is nil")
		}
		d.matcher = m
		return nil
	}
}

func WithLibrary(sigs ...*signature.Signature) OptionFn {
	return func(d *Detector) error {
		if len(sigs) == 0 {
			return errors.New("empty signature library")
		}
		d.library = sigs
		return nil
	}
}

func WithMaxEntrySize(n int64) OptionFn {
	return func(d *Detector) error {
		if n <= 0 {
			return fmt.Errorf("invalid max entry size %d", n)
		}
		d.maxEntrySize = n
		return nil
	}
}

// New returns a detector using the reset matcher and the built in signature
// library unless configured otherwise.
func New(options ...OptionFn) (*Detector, error) {
	d := &Detector{
		matcher:      signature.ResetMatcher{},
		library:      signature.Library(),
		maxEntrySize: DefaultMaxEntrySize,
	}

	for _, optionFn := range options {
		if err := optionFn(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Detector) Matcher() signature.Matcher {
	return d.matcher
}

// Library returns the signatures tested against each method.
func (d *Detector) Library() []*signature.Signature {
	return append([]*signature.Signature{}, d.library...)
}

// Detection describes the first signature found in a class.
type Detection struct {
	Signature string
	Class     string
	Method    string

	// Entry is the archive entry the class was read from, if any.
	Entry string
}

func (d *Detection) String() string {
	s := fmt.Sprintf("%s in %s.%s", d.Signature, d.Class, d.Method)
	if d.Entry != "" {
		s += " (" + d.Entry + ")"
	}
	return s
}

// ClassError reports class data that could not be parsed or decoded.
type ClassError struct {
	Class string
	Err   error
}

func (e *ClassError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("malformed class: %s", e.Err)
	}
	return fmt.Sprintf("malformed class %s: %s", e.Class, e.Err)
}

func (e *ClassError) Unwrap() error {
	return e.Err
}

// ScanClass tests every method of the class against every signature, in
// method order and then library order, and returns the first match. It
// returns nil, nil for a clean class and a *ClassError for malformed data.
// Methods are decoded one at a time, so a match in an earlier method is
// reported even when a later method is malformed.
func (d *Detector) ScanClass(data []byte) (*Detection, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, &ClassError{Err: err}
	}

	for i := range cf.Methods {
		m := &cf.Methods[i]

		insns, err := cf.Instructions(m)
		if err != nil {
			name, _ := cf.ClassName()
			return nil, &ClassError{Class: name, Err: err}
		}

		stream := bytecode.Normalize(insns)
		for _, sig := range d.library {
			if !d.matcher.Match(stream, sig) {
				continue
			}

			name, _ := cf.ClassName()
			return &Detection{
				Signature: sig.Name(),
				Class:     name,
				Method:    m.Name + m.Descriptor,
			}, nil
		}
	}

	return nil, nil
}
