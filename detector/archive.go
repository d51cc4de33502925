package detector

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const classFileExtension = ".class"

var (
	ErrEncryptedEntry = errors.New("encrypted entry")
	ErrEntryTooLarge  = errors.New("entry too large")
)

// EntryError records an archive entry that could not be scanned. Decode
// failures wrap a *ClassError.
type EntryError struct {
	Entry string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entry, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// ArchiveResult is the outcome of scanning one archive. Detection is nil for
// a clean archive. Err is set when the archive could not be read as a whole
// or the scan was cancelled; entry failures never set it.
type ArchiveResult struct {
	Path      string
	Detection *Detection
	Classes   int
	Entries   []*EntryError
	Err       error
	CloseErr  error
}

func (r *ArchiveResult) Infected() bool {
	return r.Detection != nil
}

// ScanArchive scans the class entries of the jar read from rc in archive
// order and stops at the first detection. rc is closed before ScanArchive
// returns. Cancellation of ctx is checked between entries.
func (d *Detector) ScanArchive(ctx context.Context, rc io.ReadSeekCloser, path string) (res *ArchiveResult) {
	res = &ArchiveResult{Path: path}

	defer func() {
		if err := rc.Close(); err != nil {
			log.Warningf("Failed to close %s after scan: %s", path, err.Error())
			res.CloseErr = err
		}
	}()

	size, err := rc.Seek(0, io.SeekEnd)
	if err != nil {
		res.Err = fmt.Errorf("determining size: %w", err)
		return
	}

	zr, err := zip.NewReader(readerAt(rc), size)
	if err != nil {
		res.Err = fmt.Errorf("opening archive: %w", err)
		return
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return
		}

		if !strings.HasSuffix(f.Name, classFileExtension) {
			continue
		}

		det, err := d.scanEntry(f)
		if err != nil {
			log.Warningf("Failed to scan class %s in %s: %s", f.Name, path, err.Error())
			res.Entries = append(res.Entries, &EntryError{Entry: f.Name, Err: err})
			continue
		}

		res.Classes++

		if det != nil {
			det.Entry = f.Name
			res.Detection = det
			log.Debugf("Signature %s matched %s in %s", det.Signature, f.Name, path)
			return
		}
	}

	return
}

func (d *Detector) scanEntry(f *zip.File) (*Detection, error) {
	if f.Flags&0x1 == 1 {
		return nil, ErrEncryptedEntry
	}

	if f.UncompressedSize64 > uint64(d.maxEntrySize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, f.UncompressedSize64)
	}

	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// the header size is not trusted
	data, err := io.ReadAll(io.LimitReader(r, d.maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.maxEntrySize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrEntryTooLarge, d.maxEntrySize)
	}

	return d.ScanClass(data)
}

type unbufferedReaderAt struct {
	R io.ReadSeeker
}

// readerAt returns r itself when it already supports ReadAt, and a seeking
// adapter otherwise. The adapter is not safe for concurrent use.
func readerAt(r io.ReadSeeker) io.ReaderAt {
	if ra, ok := r.(io.ReaderAt); ok {
		return ra
	}
	return &unbufferedReaderAt{R: r}
}

func (u *unbufferedReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if _, err := u.R.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	n, err = io.ReadFull(u.R, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
