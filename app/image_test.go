package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/dutchcoders/nekoshield/classfile/classtest"
	"github.com/dutchcoders/nekoshield/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImageClient struct {
	summaries []types.ImageSummary
	images    map[string][]byte
	listErr   error

	saved  []string
	closed bool
}

func (c *fakeImageClient) ImageList(ctx context.Context, options types.ImageListOptions) ([]types.ImageSummary, error) {
	return c.summaries, c.listErr
}

func (c *fakeImageClient) ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error) {
	c.saved = append(c.saved, imageIDs...)

	data, ok := c.images[imageIDs[0]]
	if !ok {
		return nil, errors.New("no such image")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *fakeImageClient) Close() error {
	c.closed = true
	return nil
}

// savedImage builds a docker save stream with a plain layer, a gzipped
// layer and a jar at the top level.
func savedImage(t *testing.T, layerJar []byte) []byte {
	t.Helper()

	plain := tarball(t,
		member{"etc/passwd", []byte("root:x:0:0::/root:/bin/sh\n")},
		member{"app/lib/app.jar", layerJar},
	)

	compressed := gzipped(t, tarball(t,
		member{"opt/tool.jar", classtest.Jar()},
	))

	return tarball(t,
		member{"manifest.json", []byte(`[{"Layers":["aaa/layer.tar","bbb/layer.tar"]}]`)},
		member{"aaa/layer.tar", plain},
		member{"bbb/layer.tar", compressed},
		member{"extra.jar", classtest.Jar()},
	)
}

func TestImageReader(t *testing.T) {
	client := &fakeImageClient{
		images: map[string][]byte{
			"app:latest": savedImage(t, classtest.Jar()),
			"sha256:2":   savedImage(t, classtest.Jar()),
		},
		summaries: []types.ImageSummary{
			{ID: "sha256:2", RepoTags: []string{"<none>:<none>"}},
		},
	}

	var stats Stats
	r := NewImageReader(client, []string{"app:latest", "missing"}, true, &stats)

	files, errs := collect(t, r)

	assert.Equal(t, []string{
		"app:latest:aaa/layer.tar!app/lib/app.jar",
		"app:latest:bbb/layer.tar!opt/tool.jar",
		"app:latest:extra.jar",
		"sha256:2:aaa/layer.tar!app/lib/app.jar",
		"sha256:2:bbb/layer.tar!opt/tool.jar",
		"sha256:2:extra.jar",
	}, names(files))

	require.Len(t, errs, 1)
	assert.Equal(t, "missing", errs[0].Path())
	assert.False(t, errs[0].Fatal)

	assert.Equal(t, []string{"app:latest", "missing", "sha256:2"}, client.saved)
	assert.EqualValues(t, 2, stats.Images())
}

func TestImageReaderListError(t *testing.T) {
	client := &fakeImageClient{listErr: errors.New("daemon not running")}

	files, errs := collect(t, NewImageReader(client, nil, true, &Stats{}))
	assert.Empty(t, files)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "daemon not running")
}

func TestScanImages(t *testing.T) {
	infected := classtest.Jar(classtest.Entry{
		Name: "com/example/Loader.class",
		Data: infectedClass(signature.ObfuscatedBytes),
	})

	client := &fakeImageClient{
		images: map[string][]byte{"app:latest": savedImage(t, infected)},
	}

	prober := &fakeProber{paths: []string{"/artifact"}}
	o := newTestOrchestrator(t, prober, option(Images([]string{"app:latest"})))
	o.newImageClient = func() (imageClient, error) { return client, nil }

	report, err := o.ScanImages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"app:latest:aaa/layer.tar!app/lib/app.jar"}, report.Stage1)
	assert.Equal(t, "ObfuscatedBytes", report.Findings[0].Signature)
	assert.Nil(t, report.Stage2)
	assert.EqualValues(t, 3, report.Archives)
	assert.Zero(t, prober.calls)
	assert.True(t, client.closed)
	assert.EqualValues(t, 1, o.Stats().Images())

	_, err = newTestOrchestrator(t, nil).ScanImages(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	o = newTestOrchestrator(t, nil, option(LocalImages()))
	o.newImageClient = func() (imageClient, error) { return nil, errors.New("no docker") }
	_, err = o.ScanImages(context.Background())
	assert.ErrorContains(t, err, "no docker")
}
