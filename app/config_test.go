package app

import (
	"path/filepath"
	"testing"

	"github.com/dutchcoders/nekoshield/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nekoshield.toml")

	writeFile(t, path, []byte(`
num_threads = 8
targets = ["/opt", "/srv"]
exclude = ["**/cache"]
emit_walk_errors = true
matcher = "kmp"
signatures = ["ReflectiveLoader", "ObfuscatedBytes"]
logfile = "`+filepath.Join(dir, "scan.log")+`"
`))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NumThreads)
	assert.Equal(t, []string{"/opt", "/srv"}, cfg.Targets)

	options, err := cfg.Options()
	require.NoError(t, err)
	assert.Len(t, options, 7)

	o := newTestOrchestrator(t, nil, options...)
	assert.Equal(t, 8, o.numThreads)
	assert.Equal(t, []string{"/opt", "/srv"}, o.targetPaths)
	assert.Len(t, o.excludeList, 1)
	assert.True(t, o.emitWalkErrors)
	assert.Equal(t, signature.FailureMatcher{}, o.matcher)
	assert.Equal(t, []*signature.Signature{signature.ReflectiveLoader, signature.ObfuscatedBytes}, o.signatures)
	assert.NotNil(t, o.output)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.toml")
	writeFile(t, path, []byte("# nothing\n"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	options, err := cfg.Options()
	require.NoError(t, err)
	assert.Empty(t, options)

	o := newTestOrchestrator(t, nil, options...)
	assert.Equal(t, DefaultNumThreads, o.numThreads)
	assert.Equal(t, signature.ResetMatcher{}, o.matcher)
	assert.Empty(t, o.signatures)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	writeFile(t, unknown, []byte("threads = 4\n"))
	_, err = LoadConfig(unknown)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, []byte("num_threads = 0\nmatcher = \"fuzzy\"\n"))
	cfg, err := LoadConfig(invalid)
	require.NoError(t, err)

	_, err = cfg.Options()
	assert.Error(t, err)

	cfg.Matcher = ""
	cfg.NumThreads = -2
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
