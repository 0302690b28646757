// Package document is the seam between the persistence core and the daemon.
// It reads and decodes files, encodes and atomically saves them, and keeps a
// fingerprint of the bytes it last read from or wrote to each path so the
// external-change watcher can tell the editor's own saves apart from
// third-party modifications.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"

	"mirrorshard/internal/atomicfile"
	"mirrorshard/internal/textenc"
)

// savePerm is the mode for newly saved documents.
const savePerm = 0644

// A ReadError reports an underlying filesystem read failure.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Fingerprint returns the blake2b-256 digest of data.
func Fingerprint(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Service loads and saves documents. Open and Save calls are independent and
// safe to run concurrently; two saves racing on the same path behave like
// two unrelated processes (last rename wins), which is the caller's problem
// to serialize if it matters.
type Service struct {
	mu           sync.Mutex
	fingerprints map[string][32]byte
}

// NewService returns an empty Service.
func NewService() *Service {
	return &Service{
		fingerprints: make(map[string][32]byte),
	}
}

// Open reads and decodes the file at path.
//
// Filesystem failures surface as *ReadError. Bytes that are neither valid
// UTF-8 nor clean Shift_JIS surface as textenc.ErrUnsupportedEncoding with
// no partial content. On success the raw bytes' fingerprint is recorded
// for path.
func (s *Service) Open(path string) (textenc.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return textenc.Document{}, &ReadError{Path: path, Err: err}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return textenc.Document{}, &ReadError{Path: abs, Err: err}
	}

	doc, err := textenc.Decode(raw)
	if err != nil {
		return textenc.Document{}, err
	}

	s.remember(abs, raw)
	return doc, nil
}

// Save encodes content under the chosen encoding and commits it to path
// atomically. Failures keep their stage: *atomicfile.WriteError before the
// commit point, *atomicfile.RenameError at it; in both cases the previous
// file content is intact. On success the written bytes' fingerprint is
// recorded so the watcher suppresses the event this save causes.
func (s *Service) Save(path, content string, enc textenc.Encoding) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &atomicfile.WriteError{Path: path, Err: err}
	}

	raw, err := textenc.Encode(content, enc)
	if err != nil {
		return err
	}

	if err := atomicfile.WriteFile(abs, raw, savePerm); err != nil {
		return err
	}

	s.remember(abs, raw)
	return nil
}

// ReadRaw reads a file without any decoding, for binary assets such as
// cover images.
func (s *Service) ReadRaw(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return raw, nil
}

// LastFingerprint reports the digest of the bytes this service last read
// from or wrote to path.
func (s *Service) LastFingerprint(path string) ([32]byte, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return [32]byte{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.fingerprints[abs]
	return sum, ok
}

// Forget drops the fingerprint for path, typically when the editor closes
// the document.
func (s *Service) Forget(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fingerprints, abs)
}

// Tracked returns the paths the service currently holds fingerprints for.
func (s *Service) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.fingerprints))
	for p := range s.fingerprints {
		paths = append(paths, p)
	}
	return paths
}

func (s *Service) remember(path string, raw []byte) {
	sum := Fingerprint(raw)
	s.mu.Lock()
	s.fingerprints[path] = sum
	s.mu.Unlock()
}
