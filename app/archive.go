package app

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

const archiveExtension = ".jar"

// maxMemberSize bounds tar members buffered into memory.
const maxMemberSize = 1 << 30

// ArchiveFile is a candidate archive produced by an ArchiveReader.
type ArchiveFile interface {
	Name() string
	Open() (io.ReadSeekCloser, error)
}

type ArchiveReader interface {
	// Walk emits ArchiveFile and *ArchiveError values and closes the
	// channel when done or when ctx is cancelled.
	Walk(ctx context.Context) <-chan interface{}
}

// ArchiveError is a failure of an archive source. Fatal errors abort the
// run; the others are walk-level and only logged.
type ArchiveError struct {
	p string

	Err   error
	Fatal bool
}

func (ae *ArchiveError) Path() string {
	return ae.p
}

func (ae *ArchiveError) Error() string {
	if ae.p == "" {
		return ae.Err.Error()
	}
	return fmt.Sprintf("%s: %s", ae.p, ae.Err.Error())
}

func (ae *ArchiveError) Unwrap() error {
	return ae.Err
}

func emit(ctx context.Context, ch chan<- interface{}, v interface{}) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func IsArchive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), archiveExtension)
}

// NopSeekCloser returns a ReadSeekCloser with a no-op Close method wrapping
// the provided ReadSeeker r.
func NopSeekCloser(r io.ReadSeeker) io.ReadSeekCloser {
	return nopSeekCloser{r}
}

type nopSeekCloser struct {
	io.ReadSeeker
}

func (nopSeekCloser) Close() error { return nil }

// memoryFile is an archive read fully into memory from a container (image
// layer, git tree).
type memoryFile struct {
	name string
	data []byte
}

func (mf *memoryFile) Name() string {
	return mf.name
}

func (mf *memoryFile) Open() (io.ReadSeekCloser, error) {
	return NopSeekCloser(bytes.NewReader(mf.data)), nil
}

type DirectoryReader struct {
	p           string
	excludeList []glob.Glob
}

type DirectoryFile struct {
	p string
}

func (df *DirectoryFile) Name() string {
	return df.p
}

func (df *DirectoryFile) Open() (io.ReadSeekCloser, error) {
	f, err := os.OpenFile(df.p, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}

var skipDirs = map[string]bool{
	"/proc": true,
	"/dev":  true,
	"/net":  true,
	"/sys":  true,
}

// Walk visits the tree depth first and emits every regular file. A failure
// to read the root itself is fatal; everything below it is reported as a
// walk-level error and skipped.
func (dr *DirectoryReader) Walk(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})

	go func() {
		defer close(ch)

		root := dr.p

		// filepath.Walk does not follow a symlinked root unless it ends in a
		// separator
		if fi, err := os.Lstat(root); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			root += string(filepath.Separator)
		}

		err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if err != nil {
				if path == root {
					return err
				}

				emit(ctx, ch, &ArchiveError{p: path, Err: err})
				return nil
			}

			if info.IsDir() {
				if abs, _ := filepath.Abs(path); skipDirs[abs] {
					return filepath.SkipDir
				} else if IsExcluded(path, dr.excludeList) {
					return filepath.SkipDir
				}
				return nil
			}

			if IsExcluded(path, dr.excludeList) {
				return nil
			}

			if !info.Mode().IsRegular() {
				return nil
			}

			emit(ctx, ch, &DirectoryFile{p: path})
			return nil
		})

		if err != nil && !errors.Is(err, ctx.Err()) {
			emit(ctx, ch, &ArchiveError{p: dr.p, Err: err, Fatal: true})
		}
	}()

	return ch
}

func NewDirectoryReader(p string, excludeList []glob.Glob) (ArchiveReader, error) {
	return &DirectoryReader{p, excludeList}, nil
}

type TARArchiveReader struct {
	*tar.Reader
}

type TARArchiveFile struct {
	*tar.Header

	data []byte
}

func (tf *TARArchiveFile) Name() string {
	return tf.Header.Name
}

func (tf *TARArchiveFile) Open() (io.ReadSeekCloser, error) {
	return NopSeekCloser(bytes.NewReader(tf.data)), nil
}

// Walk emits every regular member, read into memory.
func (tr *TARArchiveReader) Walk(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})

	go func() {
		defer close(ch)

		for {
			header, err := tr.Reader.Next()
			if err == io.EOF {
				break
			}

			if errors.Is(err, tar.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
				// not a (valid) tar
				break
			}

			if err != nil {
				emit(ctx, ch, &ArchiveError{Err: err})
				break
			}

			if header.Typeflag != tar.TypeReg {
				continue
			}

			if header.Size > maxMemberSize {
				// bailing out when file in tar is too large
				emit(ctx, ch, &ArchiveError{p: header.Name, Err: fmt.Errorf("could not scan file, file too large: %d bytes", header.Size)})
				break
			}

			buff := bytes.NewBuffer(make([]byte, 0, header.Size))
			if _, err := io.Copy(buff, io.LimitReader(tr.Reader, header.Size)); err != nil {
				emit(ctx, ch, &ArchiveError{p: header.Name, Err: err})
				break
			}

			if !emit(ctx, ch, &TARArchiveFile{header, buff.Bytes()}) {
				return
			}
		}
	}()

	return ch
}

func NewGzipTARArchiveReader(br io.ReaderAt, size int64) (ArchiveReader, error) {
	gr, err := gzip.NewReader(io.NewSectionReader(br, 0, size))
	if err != nil {
		return nil, err
	}

	return &TARArchiveReader{tar.NewReader(gr)}, nil
}

func NewTARArchiveReader(br io.ReaderAt, size int64) (ArchiveReader, error) {
	return &TARArchiveReader{tar.NewReader(io.NewSectionReader(br, 0, size))}, nil
}

// IsTAR reports whether r is positioned at a ustar header. The position of
// r is restored.
func IsTAR(r io.ReadSeeker) (bool, error) {
	c, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}

	block := [512]byte{}

	n, err := io.ReadFull(r, block[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return false, err
	}

	if _, err := r.Seek(c, io.SeekStart); err != nil {
		return false, err
	}

	if n < 257+6 {
		return false, nil
	}
	return bytes.Equal(block[257:257+5], []byte("ustar")), nil
}

// IsGzip reports whether r starts with the gzip magic. The position of r is
// restored.
func IsGzip(r io.ReadSeeker) (bool, error) {
	c, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}

	magic := [2]byte{}
	n, err := io.ReadFull(r, magic[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return false, err
	}

	if _, err := r.Seek(c, io.SeekStart); err != nil {
		return false, err
	}

	return n == 2 && magic[0] == 0x1f && magic[1] == 0x8b, nil
}

func IsExcluded(p string, l []glob.Glob) bool {
	for _, g := range l {
		if g.Match(p) {
			return true
		}
	}

	return false
}

// CompileExcludes compiles exclude patterns with '/' as separator, so '*'
// stays within a path element and '**' crosses them.
func CompileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
