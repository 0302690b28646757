package fonts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFamiliesInEmptyDir(t *testing.T) {
	families := familiesIn([]string{t.TempDir()})
	if len(families) != 0 {
		t.Errorf("expected no families, got %v", families)
	}
}

func TestFamiliesInMissingDir(t *testing.T) {
	families := familiesIn([]string{filepath.Join(t.TempDir(), "absent")})
	if len(families) != 0 {
		t.Errorf("expected no families for missing dir, got %v", families)
	}
}

func TestFamiliesInSkipsGarbage(t *testing.T) {
	dir := t.TempDir()

	// Wrong extension and a corrupt font file; neither may surface.
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a font"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.ttf"), []byte{0x00, 0x01, 0x02}, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	families := familiesIn([]string{dir})
	if len(families) != 0 {
		t.Errorf("expected no families, got %v", families)
	}
}

func TestFamilyNamesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.otf")
	if err := os.WriteFile(path, []byte("garbage bytes"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if names := familyNames(path); names != nil {
		t.Errorf("expected nil for corrupt font, got %v", names)
	}
}

func TestSearchDirsNotEmpty(t *testing.T) {
	dirs := searchDirs()
	if len(dirs) == 0 {
		t.Fatal("expected at least one font directory for this platform")
	}
	for _, d := range dirs {
		if d == "" {
			t.Error("empty directory entry")
		}
	}
}
