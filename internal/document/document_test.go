package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorshard/internal/atomicfile"
	"mirrorshard/internal/textenc"
)

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path
}

func TestOpenUTF8(t *testing.T) {
	svc := NewService()
	path := writeTestFile(t, t.TempDir(), "a.txt", []byte("hello\nworld\n"))

	doc, err := svc.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", doc.Content)
	assert.Equal(t, textenc.UTF8, doc.Encoding)
	assert.Equal(t, textenc.LF, doc.LineEnding)
}

func TestOpenShiftJIS(t *testing.T) {
	svc := NewService()
	raw, err := textenc.Encode("原稿の一行目\r\n二行目\r\n", textenc.ShiftJIS)
	require.NoError(t, err)
	path := writeTestFile(t, t.TempDir(), "genko.txt", raw)

	doc, err := svc.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "原稿の一行目\r\n二行目\r\n", doc.Content)
	assert.Equal(t, textenc.ShiftJIS, doc.Encoding)
	assert.Equal(t, textenc.CRLF, doc.LineEnding)
}

func TestOpenMissingFile(t *testing.T) {
	svc := NewService()

	_, err := svc.Open(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenUndecodableFile(t *testing.T) {
	svc := NewService()
	path := writeTestFile(t, t.TempDir(), "bin.dat", []byte{0xFF, 0xFE, 0x00, 0x41})

	_, err := svc.Open(path)
	require.ErrorIs(t, err, textenc.ErrUnsupportedEncoding)
}

func TestSaveThenOpenRoundTrip(t *testing.T) {
	svc := NewService()
	path := filepath.Join(t.TempDir(), "draft.txt")

	require.NoError(t, svc.Save(path, "line1\r\nline2", textenc.UTF8))

	doc, err := svc.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline2", doc.Content)
	assert.Equal(t, textenc.UTF8, doc.Encoding)
	assert.Equal(t, textenc.CRLF, doc.LineEnding)
}

func TestSaveShiftJISBytes(t *testing.T) {
	svc := NewService()
	path := filepath.Join(t.TempDir(), "draft.txt")
	content := "縦書きの原稿\n"

	require.NoError(t, svc.Save(path, content, textenc.ShiftJIS))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)

	want, err := textenc.Encode(content, textenc.ShiftJIS)
	require.NoError(t, err)
	assert.Equal(t, want, onDisk)
}

func TestSaveIntoMissingDirectory(t *testing.T) {
	svc := NewService()
	path := filepath.Join(t.TempDir(), "missing", "draft.txt")

	err := svc.Save(path, "content", textenc.UTF8)
	require.Error(t, err)

	var writeErr *atomicfile.WriteError
	require.ErrorAs(t, err, &writeErr)
}

func TestFingerprintsFollowReadsAndWrites(t *testing.T) {
	svc := NewService()
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", []byte("tracked content"))

	_, ok := svc.LastFingerprint(path)
	assert.False(t, ok, "no fingerprint before first open")

	_, err := svc.Open(path)
	require.NoError(t, err)

	sum, ok := svc.LastFingerprint(path)
	require.True(t, ok)
	assert.Equal(t, Fingerprint([]byte("tracked content")), sum)

	require.NoError(t, svc.Save(path, "edited", textenc.UTF8))

	sum, ok = svc.LastFingerprint(path)
	require.True(t, ok)
	assert.Equal(t, Fingerprint([]byte("edited")), sum)

	svc.Forget(path)
	_, ok = svc.LastFingerprint(path)
	assert.False(t, ok)
}

func TestTracked(t *testing.T) {
	svc := NewService()
	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.txt", []byte("a"))
	b := writeTestFile(t, dir, "b.txt", []byte("b"))

	_, err := svc.Open(a)
	require.NoError(t, err)
	_, err = svc.Open(b)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{a, b}, svc.Tracked())
}

func TestReadRaw(t *testing.T) {
	svc := NewService()
	raw := []byte{0x89, 0x50, 0x4E, 0x47, 0x00, 0xFF}
	path := writeTestFile(t, t.TempDir(), "cover.png", raw)

	got, err := svc.ReadRaw(path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = svc.ReadRaw(filepath.Join(t.TempDir(), "absent.png"))
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
}
