package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// imageClient is the subset of the docker client used by ImageReader.
type imageClient interface {
	ImageList(ctx context.Context, options types.ImageListOptions) ([]types.ImageSummary, error)
	ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error)
	Close() error
}

func newDockerClient() (imageClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// ImageReader emits the jars found in docker images, both at the top of the
// saved image and inside every layer. Archives are named
// image:layer!path.
type ImageReader struct {
	client imageClient
	images []string
	local  bool
	stats  *Stats
}

func NewImageReader(client imageClient, images []string, local bool, stats *Stats) *ImageReader {
	return &ImageReader{
		client: client,
		images: images,
		local:  local,
		stats:  stats,
	}
}

func (ir *ImageReader) localImages(ctx context.Context) ([]string, error) {
	summaries, err := ir.client.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, err
	}

	images := []string{}
	for _, s := range summaries {
		name := s.ID
		if len(s.RepoTags) > 0 && s.RepoTags[0] != "<none>:<none>" {
			name = s.RepoTags[0]
		}
		images = append(images, name)
	}
	return images, nil
}

func (ir *ImageReader) Walk(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})

	go func() {
		defer close(ch)

		images := append([]string{}, ir.images...)

		if ir.local {
			local, err := ir.localImages(ctx)
			if err != nil {
				emit(ctx, ch, &ArchiveError{p: "docker", Err: fmt.Errorf("listing images: %w", err)})
				return
			}
			images = append(images, local...)
		}

		for _, image := range images {
			if ctx.Err() != nil {
				return
			}

			if err := ir.walkImage(ctx, ch, image); err != nil && ctx.Err() == nil {
				emit(ctx, ch, &ArchiveError{p: image, Err: err})
			}
		}
	}()

	return ch
}

func (ir *ImageReader) walkImage(ctx context.Context, ch chan<- interface{}, image string) error {
	log.Infof("Saving image %s", image)

	rc, err := ir.client.ImageSave(ctx, []string{image})
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "nekoshield-image-*.tar")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	size, err := io.Copy(f, rc)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}

	ir.stats.IncImage()

	outer, err := NewTARArchiveReader(f, size)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for v := range outer.Walk(ctx) {
		switch v := v.(type) {
		case *ArchiveError:
			emit(ctx, ch, &ArchiveError{p: image + ":" + v.p, Err: v.Err})
		case *TARArchiveFile:
			if IsArchive(v.Name()) {
				emit(ctx, ch, &memoryFile{name: image + ":" + v.Name(), data: v.data})
				continue
			}

			ir.walkLayer(ctx, ch, image, v)
		}
	}

	return nil
}

// walkLayer emits the jars of one layer. Members that are neither a tar nor
// a gzipped tar (manifests, configs) are ignored.
func (ir *ImageReader) walkLayer(ctx context.Context, ch chan<- interface{}, image string, layer *TARArchiveFile) {
	r := bytes.NewReader(layer.data)

	var lr ArchiveReader

	if ok, _ := IsTAR(r); ok {
		lr, _ = NewTARArchiveReader(r, r.Size())
	} else if ok, _ := IsGzip(r); ok {
		var err error
		if lr, err = NewGzipTARArchiveReader(r, r.Size()); err != nil {
			emit(ctx, ch, &ArchiveError{p: image + ":" + layer.Name(), Err: err})
			return
		}
	} else {
		return
	}

	log.Debugf("Walking layer %s of %s", layer.Name(), image)

	for v := range lr.Walk(ctx) {
		switch v := v.(type) {
		case *ArchiveError:
			emit(ctx, ch, &ArchiveError{p: fmt.Sprintf("%s:%s!%s", image, layer.Name(), v.p), Err: v.Err})
		case *TARArchiveFile:
			if !IsArchive(v.Name()) {
				continue
			}

			emit(ctx, ch, &memoryFile{name: fmt.Sprintf("%s:%s!%s", image, layer.Name(), v.Name()), data: v.data})
		}
	}
}
