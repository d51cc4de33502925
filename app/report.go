package app

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dylanmei/iso8601"
	"github.com/fatih/color"
	uuid "github.com/nu7hatch/gouuid"
)

// Finding describes why an archive was flagged.
type Finding struct {
	Path      string `json:"path"`
	Signature string `json:"signature"`
	Class     string `json:"class"`
	Method    string `json:"method"`
	Entry     string `json:"entry"`
}

// Report is the result of one run. It is not modified after it is returned.
type Report struct {
	ID string

	// Stage1 lists infected archives in the order their scans finished.
	Stage1   []string
	Findings []Finding

	// Stage2 lists dropper artifacts in table order. It is nil when stage 2
	// did not run.
	Stage2 []string

	Stage1Elapsed time.Duration
	Stage2Elapsed time.Duration
	Elapsed       time.Duration

	Files    uint64
	Archives uint64
	Classes  uint64
	Errors   uint64
}

func newRunID() string {
	id, err := uuid.NewV4()
	if err != nil {
		log.Warningf("Could not generate run id: %s", err.Error())
		return ""
	}
	return id.String()
}

func (r *Report) Infected() bool {
	return len(r.Stage1) > 0 || len(r.Stage2) > 0
}

// aggregate builds the report. Both lists are kept in the order given,
// without deduplication.
func aggregate(findings []Finding, stage2 []string, stats *Stats, stage1Elapsed, stage2Elapsed, elapsed time.Duration) *Report {
	stage1 := make([]string, 0, len(findings))
	for _, f := range findings {
		stage1 = append(stage1, f.Path)
	}

	return &Report{
		ID:            newRunID(),
		Stage1:        stage1,
		Findings:      findings,
		Stage2:        stage2,
		Stage1Elapsed: stage1Elapsed,
		Stage2Elapsed: stage2Elapsed,
		Elapsed:       elapsed,
		Files:         stats.Files(),
		Archives:      stats.Archives(),
		Classes:       stats.Classes(),
		Errors:        stats.Errors(),
	}
}

// WriteText writes the human readable report.
func (r *Report) WriteText(w io.Writer) error {
	var err error
	printf := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("Scan %s finished in %s (stage 1 %s, stage 2 %s)\n", r.ID, FormatDuration(r.Elapsed), FormatDuration(r.Stage1Elapsed), FormatDuration(r.Stage2Elapsed))
	printf("Scanned %d archives (%d classes), %d errors.\n", r.Archives, r.Classes, r.Errors)

	if len(r.Findings) == 0 {
		printf("%s\n", color.GreenString("[+] Stage 1: no infected archives found"))
	}
	for _, f := range r.Findings {
		printf("%s\n", color.RedString("[!] Stage 1: %s is infected (%s in %s, %s)", f.Path, f.Signature, f.Entry, f.Method))
	}

	switch {
	case r.Stage2 == nil:
		printf("%s\n", color.YellowString("[-] Stage 2: not run"))
	case len(r.Stage2) == 0:
		printf("%s\n", color.GreenString("[+] Stage 2: no dropper artifacts found"))
	}
	for _, p := range r.Stage2 {
		printf("%s\n", color.RedString("[!] Stage 2: found dropper artifact %s", p))
	}

	return err
}

type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ISO8601 string `json:"iso8601"`
		Millis  int64  `json:"ms"`
	}{
		ISO8601: iso8601.FormatDuration(time.Duration(d)),
		Millis:  time.Duration(d).Milliseconds(),
	})
}

func (r *Report) MarshalJSON() ([]byte, error) {
	findings := r.Findings
	if findings == nil {
		findings = []Finding{}
	}

	stage1 := r.Stage1
	if stage1 == nil {
		stage1 = []string{}
	}

	return json.Marshal(struct {
		ID            string       `json:"id"`
		Stage1        []string     `json:"stage1"`
		Findings      []Finding    `json:"findings"`
		Stage2        []string     `json:"stage2"`
		Stage1Elapsed jsonDuration `json:"stage1_elapsed"`
		Stage2Elapsed jsonDuration `json:"stage2_elapsed"`
		Elapsed       jsonDuration `json:"elapsed"`
		Files         uint64       `json:"files"`
		Archives      uint64       `json:"archives"`
		Classes       uint64       `json:"classes"`
		Errors        uint64       `json:"errors"`
	}{
		ID:            r.ID,
		Stage1:        stage1,
		Findings:      findings,
		Stage2:        r.Stage2,
		Stage1Elapsed: jsonDuration(r.Stage1Elapsed),
		Stage2Elapsed: jsonDuration(r.Stage2Elapsed),
		Elapsed:       jsonDuration(r.Elapsed),
		Files:         r.Files,
		Archives:      r.Archives,
		Classes:       r.Classes,
		Errors:        r.Errors,
	})
}

// FormatDuration renders d with millisecond precision.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond

	return fmt.Sprintf("%02dh:%02dm:%02d.%03ds", h, m, s, ms)
}
