package detector

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dutchcoders/nekoshield/bytecode"
	"github.com/dutchcoders/nekoshield/classfile"
	"github.com/dutchcoders/nekoshield/classfile/classtest"
	"github.com/dutchcoders/nekoshield/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func infectedClass(sig *signature.Signature) []byte {
	insns := []bytecode.Instruction{bytecode.Plain(bytecode.OpNop)}
	insns = append(insns, sig.Instructions()...)
	insns = append(insns, bytecode.Plain(bytecode.OpReturn))

	return classtest.NewClass("com/example/Loader").
		WithLineNumbers().
		Method("clean", "()V", bytecode.Plain(bytecode.OpReturn)).
		Method("run", "()V", insns...).
		Bytes()
}

func cleanClass() []byte {
	return classtest.NewClass("com/example/Clean").
		Method("run", "()V",
			bytecode.MethodInsn(bytecode.OpInvokestatic, "java/lang/Runtime", "getRuntime", "()Ljava/lang/Runtime;"),
			bytecode.Plain(bytecode.OpPop),
			bytecode.Plain(bytecode.OpReturn),
		).
		Bytes()
}

func corruptClass() []byte {
	return []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0}
}

func newDetector(t *testing.T, options ...OptionFn) *Detector {
	t.Helper()

	d, err := New(options...)
	require.NoError(t, err)
	return d
}

func TestScanClassSignatures(t *testing.T) {
	d := newDetector(t)

	for _, sig := range signature.Library() {
		t.Run(sig.Name(), func(t *testing.T) {
			det, err := d.ScanClass(infectedClass(sig))
			require.NoError(t, err)
			require.NotNil(t, det)

			assert.Equal(t, sig.Name(), det.Signature)
			assert.Equal(t, "com/example/Loader", det.Class)
			assert.Equal(t, "run()V", det.Method)
		})
	}
}

func TestScanClassClean(t *testing.T) {
	det, err := newDetector(t).ScanClass(cleanClass())
	assert.NoError(t, err)
	assert.Nil(t, det)
}

func TestScanClassMalformed(t *testing.T) {
	det, err := newDetector(t).ScanClass(corruptClass())
	assert.Nil(t, det)

	var ce *ClassError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, ce.Class)
}

func TestScanClassMalformedMethod(t *testing.T) {
	d := newDetector(t)

	// a match in an earlier method wins over a broken later one
	insns := signature.Base64Exec.Instructions()
	data := classtest.NewClass("com/example/A").
		Method("run", "()V", insns...).
		RawMethod("broken", "()V", []byte{0xca}).
		Bytes()

	det, err := d.ScanClass(data)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "Base64Exec", det.Signature)

	data = classtest.NewClass("com/example/B").
		RawMethod("broken", "()V", []byte{0xca}).
		Method("run", "()V", insns...).
		Bytes()

	det, err = d.ScanClass(data)
	assert.Nil(t, det)

	var ce *ClassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "com/example/B", ce.Class)
}

func TestScanClassTruncatedCode(t *testing.T) {
	d := newDetector(t)
	insns := signature.ReflectiveLoader.Instructions()

	// the class parses, only the method with the bad Code attribute fails
	det, err := d.ScanClass(classtest.NewClass("com/example/A").
		Method("run", "()V", insns...).
		TruncatedMethod("broken", "()V").
		Bytes())
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "ReflectiveLoader", det.Signature)
	assert.Equal(t, "run()V", det.Method)

	det, err = d.ScanClass(classtest.NewClass("com/example/B").
		TruncatedMethod("broken", "()V").
		Method("run", "()V", insns...).
		Bytes())
	assert.Nil(t, det)

	var ce *ClassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "com/example/B", ce.Class)
	assert.ErrorIs(t, err, classfile.ErrTruncated)
}

func TestScanClassMatcherStrategy(t *testing.T) {
	// getRuntime twice in a row is only found after falling back
	insns := signature.Base64Exec.Instructions()
	insns = append(insns[:1], insns...)
	data := classtest.NewClass("com/example/A").Method("run", "()V", insns...).Bytes()

	det, err := newDetector(t).ScanClass(data)
	require.NoError(t, err)
	assert.Nil(t, det)

	det, err = newDetector(t, WithMatcher(signature.FailureMatcher{})).ScanClass(data)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "Base64Exec", det.Signature)
}

func TestNewOptions(t *testing.T) {
	_, err := New(WithMatcher(nil))
	assert.Error(t, err)

	_, err = New(WithLibrary())
	assert.Error(t, err)

	_, err = New(WithMaxEntrySize(0))
	assert.Error(t, err)

	d := newDetector(t)
	assert.Equal(t, "reset", d.Matcher().Name())
}

type closeTracker struct {
	*bytes.Reader

	closed int
	err    error
}

func (c *closeTracker) Close() error {
	c.closed++
	return c.err
}

func jar(entries ...classtest.Entry) *closeTracker {
	return &closeTracker{Reader: bytes.NewReader(classtest.Jar(entries...))}
}

func TestScanArchiveMatchBeforeCorrupt(t *testing.T) {
	rc := jar(
		classtest.Entry{Name: "META-INF/MANIFEST.MF", Data: []byte("Manifest-Version: 1.0\n")},
		classtest.Entry{Name: "com/example/Clean.class", Data: cleanClass()},
		classtest.Entry{Name: "com/example/Loader.class", Data: infectedClass(signature.ReflectiveLoader)},
		classtest.Entry{Name: "com/example/Broken.class", Data: corruptClass()},
	)

	res := newDetector(t).ScanArchive(context.Background(), rc, "test.jar")

	require.True(t, res.Infected())
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 2, res.Classes)
	assert.Equal(t, "com/example/Loader.class", res.Detection.Entry)
	assert.Equal(t, "ReflectiveLoader", res.Detection.Signature)
	assert.Equal(t, 1, rc.closed)
}

func TestScanArchiveCorruptBeforeMatch(t *testing.T) {
	rc := jar(
		classtest.Entry{Name: "a/Broken.class", Data: corruptClass()},
		classtest.Entry{Name: "b/Loader.class", Data: infectedClass(signature.ObfuscatedBytes)},
	)

	res := newDetector(t).ScanArchive(context.Background(), rc, "test.jar")

	require.True(t, res.Infected())
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "a/Broken.class", res.Entries[0].Entry)
}

func TestScanArchiveCorruptOnly(t *testing.T) {
	rc := jar(
		classtest.Entry{Name: "a/Broken.class", Data: corruptClass()},
		classtest.Entry{Name: "a/Empty.class", Data: nil},
	)

	var res *ArchiveResult
	assert.NotPanics(t, func() {
		res = newDetector(t).ScanArchive(context.Background(), rc, "test.jar")
	})

	assert.False(t, res.Infected())
	assert.NoError(t, res.Err)
	require.Len(t, res.Entries, 2)

	var ce *ClassError
	assert.ErrorAs(t, res.Entries[0], &ce)
	assert.Equal(t, 1, rc.closed)
}

func TestScanArchiveNotAZip(t *testing.T) {
	rc := &closeTracker{Reader: bytes.NewReader([]byte("not a zip file"))}

	res := newDetector(t).ScanArchive(context.Background(), rc, "test.jar")

	assert.False(t, res.Infected())
	assert.Error(t, res.Err)
	assert.Equal(t, 1, rc.closed)
}

func TestScanArchiveCloseError(t *testing.T) {
	rc := jar(classtest.Entry{Name: "Loader.class", Data: infectedClass(signature.Base64Exec)})
	rc.err = errors.New("close failed")

	res := newDetector(t).ScanArchive(context.Background(), rc, "test.jar")

	assert.True(t, res.Infected())
	assert.NoError(t, res.Err)
	assert.EqualError(t, res.CloseErr, "close failed")
}

func TestScanArchiveCancelled(t *testing.T) {
	rc := jar(classtest.Entry{Name: "Loader.class", Data: infectedClass(signature.Base64Exec)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newDetector(t).ScanArchive(ctx, rc, "test.jar")

	assert.False(t, res.Infected())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, rc.closed)
}

func TestScanArchiveEntryTooLarge(t *testing.T) {
	rc := jar(classtest.Entry{Name: "Loader.class", Data: infectedClass(signature.Base64Exec)})

	res := newDetector(t, WithMaxEntrySize(16)).ScanArchive(context.Background(), rc, "test.jar")

	assert.False(t, res.Infected())
	require.Len(t, res.Entries, 1)
	assert.ErrorIs(t, res.Entries[0], ErrEntryTooLarge)
}

type seekOnly struct {
	r *bytes.Reader
}

func (s *seekOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *seekOnly) Seek(off int64, whence int) (int64, error) { return s.r.Seek(off, whence) }

func (s *seekOnly) Close() error { return nil }

func TestScanArchiveWithoutReaderAt(t *testing.T) {
	rc := &seekOnly{bytes.NewReader(classtest.Jar(
		classtest.Entry{Name: "Loader.class", Data: infectedClass(signature.ReflectiveLoader)},
	))}

	res := newDetector(t).ScanArchive(context.Background(), rc, "test.jar")
	assert.True(t, res.Infected())
}
