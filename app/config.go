package app

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// FileConfig is the on-disk configuration. Unset keys keep the defaults.
type FileConfig struct {
	NumThreads     int      `toml:"num_threads"`
	Targets        []string `toml:"targets"`
	Exclude        []string `toml:"exclude"`
	EmitWalkErrors bool     `toml:"emit_walk_errors"`
	Matcher        string   `toml:"matcher"`
	Signatures     []string `toml:"signatures"`
	LogFile        string   `toml:"logfile"`
}

// LoadConfig reads a TOML configuration file. Unknown keys are rejected.
func LoadConfig(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FileConfig

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// Options converts the file settings into orchestrator options.
func (cfg *FileConfig) Options() ([]OptionFn, error) {
	options := []OptionFn{}

	add := func(fn OptionFn, err error) error {
		if err != nil {
			return err
		}
		options = append(options, fn)
		return nil
	}

	if cfg.NumThreads != 0 {
		if err := add(NumThreads(cfg.NumThreads)); err != nil {
			return nil, err
		}
	}

	if len(cfg.Targets) > 0 {
		if err := add(TargetPaths(cfg.Targets)); err != nil {
			return nil, err
		}
	}

	if len(cfg.Exclude) > 0 {
		if err := add(ExcludeList(cfg.Exclude)); err != nil {
			return nil, err
		}
	}

	if cfg.EmitWalkErrors {
		if err := add(EmitWalkErrors()); err != nil {
			return nil, err
		}
	}

	if cfg.Matcher != "" {
		if err := add(Matcher(cfg.Matcher)); err != nil {
			return nil, err
		}
	}

	if len(cfg.Signatures) > 0 {
		if err := add(Signatures(cfg.Signatures)); err != nil {
			return nil, err
		}
	}

	if cfg.LogFile != "" {
		if err := add(LogFile(cfg.LogFile)); err != nil {
			return nil, err
		}
	}

	return options, nil
}
