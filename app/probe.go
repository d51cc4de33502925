package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// Prober looks for artifacts left behind by the second stage dropper.
type Prober interface {
	Probe(ctx context.Context) ([]string, error)
}

type base int

const (
	baseHome base = iota
	baseAppData
)

// artifactLocation is a directory, relative to a per user base directory,
// and the names of the artifacts that may appear in it.
type artifactLocation struct {
	base  base
	dir   []string
	names []string
}

var startupArtifacts = []string{".ref", "client.jar", "lib.dll", "libWebGL64.jar", "run.bat"}

// artifactTable maps GOOS to the locations checked on that platform, in
// report order.
var artifactTable = map[string][]artifactLocation{
	"windows": {
		{base: baseAppData, names: []string{"Microsoft Edge"}},
		{base: baseAppData, dir: []string{"Microsoft", "Windows", "Start Menu", "Programs", "Startup"}, names: startupArtifacts},
	},
	"linux": {
		{base: baseHome, dir: []string{".config", ".data"}, names: []string{"lib.jar"}},
	},
}

// LocalProber checks the artifact table of the host platform on the local
// filesystem.
type LocalProber struct {
	GOOS    string
	Getenv  func(string) string
	HomeDir func() (string, error)
}

func NewLocalProber() *LocalProber {
	return &LocalProber{
		GOOS:    runtime.GOOS,
		Getenv:  os.Getenv,
		HomeDir: os.UserHomeDir,
	}
}

func (p *LocalProber) baseDir(b base) (string, error) {
	home, err := p.HomeDir()

	switch b {
	case baseAppData:
		if v := p.Getenv("APPDATA"); v != "" {
			return v, nil
		} else if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Roaming"), nil
	default:
		return home, err
	}
}

// Probe returns the absolute paths of the artifacts found, in table order.
// Platforms without table entries yield no paths.
func (p *LocalProber) Probe(ctx context.Context) ([]string, error) {
	found := []string{}

	for _, loc := range artifactTable[p.GOOS] {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		root, err := p.baseDir(loc.base)
		if err != nil {
			return found, err
		}

		dir := filepath.Join(append([]string{root}, loc.dir...)...)
		for _, name := range loc.names {
			path := filepath.Join(dir, name)

			if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				log.Debugf("Could not check %s: %s", path, err.Error())
				continue
			}

			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}

			log.Infof("Found dropper artifact %s", path)
			found = append(found, path)
		}
	}

	return found, nil
}
