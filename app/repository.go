package app

import (
	"context"
	"fmt"
	"io"

	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/memory"
)

type cloneFunc func(ctx context.Context, url string) (*git.Repository, error)

// cloneRepository makes a shallow, in memory clone of the default branch.
func cloneRepository(ctx context.Context, url string) (*git.Repository, error) {
	return git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
}

// RepositoryReader emits the jars committed at HEAD of git repositories,
// named url@commit:path.
type RepositoryReader struct {
	urls  []string
	clone cloneFunc
	stats *Stats
}

func NewRepositoryReader(urls []string, clone cloneFunc, stats *Stats) *RepositoryReader {
	return &RepositoryReader{
		urls:  urls,
		clone: clone,
		stats: stats,
	}
}

func (rr *RepositoryReader) Walk(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})

	go func() {
		defer close(ch)

		for _, url := range rr.urls {
			if ctx.Err() != nil {
				return
			}

			if err := rr.walkRepository(ctx, ch, url); err != nil && ctx.Err() == nil {
				emit(ctx, ch, &ArchiveError{p: url, Err: err})
			}
		}
	}()

	return ch
}

func (rr *RepositoryReader) walkRepository(ctx context.Context, ch chan<- interface{}, url string) error {
	log.Infof("Cloning %s", url)

	repo, err := rr.clone(ctx, url)
	if err != nil {
		return fmt.Errorf("cloning: %w", err)
	}

	rr.stats.IncRepository()

	ref, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return err
	}

	files, err := commit.Files()
	if err != nil {
		return err
	}
	defer files.Close()

	return files.ForEach(func(f *object.File) error {
		if !IsArchive(f.Name) {
			return nil
		}

		name := fmt.Sprintf("%s@%s:%s", url, ref.Hash().String(), f.Name)

		if f.Size > maxMemberSize {
			emit(ctx, ch, &ArchiveError{p: name, Err: fmt.Errorf("could not scan file, file too large: %d bytes", f.Size)})
			return nil
		}

		data, err := readBlob(f)
		if err != nil {
			emit(ctx, ch, &ArchiveError{p: name, Err: err})
			return nil
		}

		if !emit(ctx, ch, &memoryFile{name: name, data: data}) {
			return ctx.Err()
		}
		return nil
	})
}

func readBlob(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
