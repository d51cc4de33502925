package app

import (
	"fmt"
	"io"

	"github.com/dutchcoders/nekoshield/signature"
	"github.com/gobwas/glob"
)

const DefaultNumThreads = 4

type config struct {
	numThreads     int
	targetPaths    []string
	excludeList    []glob.Glob
	emitWalkErrors bool
	matcher        signature.Matcher
	signatures     []*signature.Signature
	logFile        string
	jsonOutput     bool

	images       []string
	localImages  bool
	repositories []string
}

type OptionFn func(*Orchestrator) error

func NumThreads(n int) (OptionFn, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: number of threads must be at least 1, got %d", ErrInvalidArgument, n)
	}

	return func(o *Orchestrator) error {
		o.numThreads = n
		return nil
	}, nil
}

func TargetPaths(paths []string) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.targetPaths = append(o.targetPaths, paths...)
		return nil
	}, nil
}

func ExcludeList(patterns []string) (OptionFn, error) {
	globs, err := CompileExcludes(patterns)
	if err != nil {
		return nil, err
	}

	return func(o *Orchestrator) error {
		o.excludeList = append(o.excludeList, globs...)
		return nil
	}, nil
}

func EmitWalkErrors() (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.emitWalkErrors = true
		return nil
	}, nil
}

// Matcher selects the sequence matcher by name, see signature.MatcherNames.
func Matcher(name string) (OptionFn, error) {
	m, err := signature.MatcherByName(name)
	if err != nil {
		return nil, err
	}

	return func(o *Orchestrator) error {
		o.matcher = m
		return nil
	}, nil
}

// Signatures restricts detection to the named built-in signatures.
func Signatures(names []string) (OptionFn, error) {
	sigs := make([]*signature.Signature, 0, len(names))
	for _, name := range names {
		sig, err := signature.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
		}
		sigs = append(sigs, sig)
	}

	return func(o *Orchestrator) error {
		o.signatures = append(o.signatures, sigs...)
		return nil
	}, nil
}

func LogFile(path string) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.logFile = path
		return nil
	}, nil
}

func JSON() (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.jsonOutput = true
		return nil
	}, nil
}

func Images(images []string) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.images = append(o.images, images...)
		return nil
	}, nil
}

func LocalImages() (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.localImages = true
		return nil
	}, nil
}

func Repositories(urls []string) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.repositories = append(o.repositories, urls...)
		return nil
	}, nil
}

// WithProber replaces the stage 2 prober. A nil prober disables stage 2.
func WithProber(p Prober) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.prober = p
		return nil
	}, nil
}

// Output sets where reports and progress are written.
func Output(w io.Writer) (OptionFn, error) {
	return func(o *Orchestrator) error {
		o.out = w
		return nil
	}, nil
}
