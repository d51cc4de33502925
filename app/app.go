package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dutchcoders/nekoshield/detector"
	"github.com/dutchcoders/nekoshield/signature"
	"github.com/fatih/color"
	"github.com/gosuri/uilive"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrScanInProgress  = errors.New("scan already in progress")

	// ErrCanceled is returned together with the partial report of a
	// cancelled run.
	ErrCanceled = fmt.Errorf("scan canceled: %w", context.Canceled)
)

type Orchestrator struct {
	config

	detector *detector.Detector
	prober   Prober

	out      io.Writer
	progress *uilive.Writer
	output   *writer

	stats Stats

	// scanFn scans a single archive; replaced in tests.
	scanFn func(ctx context.Context, f ArchiveFile) *detector.ArchiveResult

	// newImageClient and cloneRepository are replaced in tests.
	newImageClient  func() (imageClient, error)
	cloneRepository cloneFunc

	m       sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func New(options ...OptionFn) (*Orchestrator, error) {
	o := &Orchestrator{
		config: config{
			numThreads: DefaultNumThreads,
			matcher:    signature.ResetMatcher{},
		},
		prober:          NewLocalProber(),
		out:             color.Output,
		newImageClient:  newDockerClient,
		cloneRepository: cloneRepository,
	}

	for _, optionFn := range options {
		if err := optionFn(o); err != nil {
			return nil, err
		}
	}

	detectorOptions := []detector.OptionFn{detector.WithMatcher(o.matcher)}
	if len(o.signatures) > 0 {
		detectorOptions = append(detectorOptions, detector.WithLibrary(o.signatures...))
	}

	d, err := detector.New(detectorOptions...)
	if err != nil {
		return nil, err
	}
	o.detector = d
	o.scanFn = o.scanArchive

	if o.logFile != "" {
		w, err := NewWriter(o.logFile)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		o.output = w
	}

	if !o.jsonOutput && isTerminal(o.out) {
		o.progress = uilive.New()
		o.progress.Out = o.out
	}

	return o, nil
}

func isTerminal(w io.Writer) bool {
	if w == color.Output {
		w = os.Stdout
	}

	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Close releases the log file.
func (o *Orchestrator) Close() error {
	return o.output.Close()
}

func (o *Orchestrator) Detector() *detector.Detector {
	return o.detector
}

func (o *Orchestrator) Stats() *Stats {
	return &o.stats
}

// Cancel stops the running scan, if any. It may be called any number of
// times, from any goroutine.
func (o *Orchestrator) Cancel() {
	o.m.Lock()
	defer o.m.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.m.Lock()
	defer o.m.Unlock()

	if o.running {
		return nil, ErrScanInProgress
	}

	ctx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.stats.reset()
	return ctx, nil
}

func (o *Orchestrator) end() {
	o.m.Lock()
	defer o.m.Unlock()

	o.cancel()
	o.cancel = nil
	o.running = false
}

func validateDirectory(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, p)
	}
	return nil
}

// Run scans the archives below root with numThreads concurrent archive
// scans, then probes for dropper artifacts. Walk errors below root are
// logged only when emitWalkErrors is set.
//
// Invalid arguments and a failure to enumerate root return no report. A
// cancelled run returns the partial stage 1 report, without stage 2, and
// ErrCanceled.
func (o *Orchestrator) Run(ctx context.Context, numThreads int, root string, emitWalkErrors bool) (*Report, error) {
	if numThreads < 1 {
		return nil, fmt.Errorf("%w: number of threads must be at least 1, got %d", ErrInvalidArgument, numThreads)
	}

	if err := validateDirectory(root); err != nil {
		return nil, err
	}

	r, err := NewDirectoryReader(root, o.excludeList)
	if err != nil {
		return nil, err
	}

	return o.run(ctx, numThreads, emitWalkErrors, true, r)
}

// Scan scans every configured target path the way Run scans root.
func (o *Orchestrator) Scan(ctx context.Context) (*Report, error) {
	if len(o.targetPaths) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidArgument)
	}

	readers := []ArchiveReader{}
	for _, p := range o.targetPaths {
		if err := validateDirectory(p); err != nil {
			return nil, err
		}

		r, err := NewDirectoryReader(p, o.excludeList)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}

	return o.run(ctx, o.numThreads, o.emitWalkErrors, true, readers...)
}

// ScanImages scans the jars inside the configured docker images. Stage 2
// does not apply to images and is not run.
func (o *Orchestrator) ScanImages(ctx context.Context) (*Report, error) {
	if len(o.images) == 0 && !o.localImages {
		return nil, fmt.Errorf("%w: no images", ErrInvalidArgument)
	}

	client, err := o.newImageClient()
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	defer client.Close()

	r := NewImageReader(client, o.images, o.localImages, &o.stats)
	return o.run(ctx, o.numThreads, o.emitWalkErrors, false, r)
}

// ScanRepositories scans the jars committed at HEAD of the configured git
// repositories. Stage 2 is not run.
func (o *Orchestrator) ScanRepositories(ctx context.Context) (*Report, error) {
	if len(o.repositories) == 0 {
		return nil, fmt.Errorf("%w: no repositories", ErrInvalidArgument)
	}

	r := NewRepositoryReader(o.repositories, o.cloneRepository, &o.stats)
	return o.run(ctx, o.numThreads, o.emitWalkErrors, false, r)
}

type findings struct {
	m    sync.Mutex
	list []Finding
}

func (f *findings) add(v Finding) {
	f.m.Lock()
	defer f.m.Unlock()

	f.list = append(f.list, v)
}

func (f *findings) snapshot() []Finding {
	f.m.Lock()
	defer f.m.Unlock()

	return append([]Finding{}, f.list...)
}

func (o *Orchestrator) run(parent context.Context, numThreads int, emitWalkErrors bool, stage2 bool, readers ...ArchiveReader) (*Report, error) {
	ctx, err := o.begin(parent)
	if err != nil {
		return nil, err
	}
	defer o.end()

	start := time.Now()

	stopProgress := o.startProgress()

	detected := &findings{}

	g := &errgroup.Group{}
	g.SetLimit(numThreads)

	var fatal error

	for _, r := range readers {
		for v := range r.Walk(ctx) {
			switch v := v.(type) {
			case ArchiveFile:
				if !IsArchive(v.Name()) {
					continue
				}

				if ctx.Err() != nil {
					continue
				}

				o.stats.IncFile()

				g.Go(func() error {
					o.scan(ctx, v, detected)
					return nil
				})
			case *ArchiveError:
				if v.Fatal {
					fatal = v
					continue
				}

				o.stats.IncError()
				if emitWalkErrors {
					log.Errorf("Error walking: %s", v.Error())
				}
			}
		}

		if fatal != nil || ctx.Err() != nil {
			break
		}
	}

	// tasks never return errors
	_ = g.Wait()

	stage1Elapsed := time.Since(start)

	stopProgress()

	if fatal != nil {
		return nil, fmt.Errorf("enumerating archives: %w", fatal)
	}

	if ctx.Err() != nil {
		log.Warningf("Scan canceled after %s", FormatDuration(stage1Elapsed))
		report := aggregate(detected.snapshot(), nil, &o.stats, stage1Elapsed, 0, time.Since(start))
		return report, ErrCanceled
	}

	var artifacts []string
	var stage2Elapsed time.Duration

	if stage2 && o.prober != nil {
		start2 := time.Now()

		artifacts, err = o.prober.Probe(ctx)
		if ctx.Err() != nil {
			log.Warningf("Scan canceled during stage 2")
			return aggregate(detected.snapshot(), nil, &o.stats, stage1Elapsed, 0, time.Since(start)), ErrCanceled
		} else if err != nil {
			o.stats.IncError()
			log.Errorf("Error probing for dropper artifacts: %s", err.Error())
		}

		if artifacts == nil {
			artifacts = []string{}
		}

		for _, p := range artifacts {
			o.output.WriteLine("stage2 %s", p)
		}

		stage2Elapsed = time.Since(start2)
	}

	return aggregate(detected.snapshot(), artifacts, &o.stats, stage1Elapsed, stage2Elapsed, time.Since(start)), nil
}

func (o *Orchestrator) scanArchive(ctx context.Context, f ArchiveFile) *detector.ArchiveResult {
	rc, err := f.Open()
	if err != nil {
		return &detector.ArchiveResult{Path: f.Name(), Err: err}
	}

	return o.detector.ScanArchive(ctx, rc, f.Name())
}

func (o *Orchestrator) scan(ctx context.Context, f ArchiveFile, detected *findings) {
	if ctx.Err() != nil {
		return
	}

	log.Debugf("Scanning %s", f.Name())

	res := o.scanFn(ctx, f)

	o.stats.IncArchive()
	o.stats.AddClasses(res.Classes)
	o.stats.AddErrors(len(res.Entries))

	if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
		o.stats.IncError()
		log.Warningf("Failed to scan archive %s: %s", f.Name(), res.Err.Error())
	}

	if !res.Infected() {
		return
	}

	o.stats.IncInfected()

	finding := Finding{
		Path:      res.Path,
		Signature: res.Detection.Signature,
		Class:     res.Detection.Class,
		Method:    res.Detection.Method,
		Entry:     res.Detection.Entry,
	}
	detected.add(finding)

	log.Infof("Infected archive %s: %s", res.Path, res.Detection)
	o.output.WriteLine("stage1 %s %s %s", res.Path, finding.Signature, finding.Entry)
}
