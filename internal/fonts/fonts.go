// Package fonts enumerates installed font families for the editor's
// preferences UI.
package fonts

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/image/font/sfnt"
)

// knownExtensions are the font container types the scanner parses.
var knownExtensions = map[string]bool{
	".ttf": true,
	".otf": true,
	".ttc": true,
	".otc": true,
}

// Families returns the family names of every parseable font under the
// platform's font directories, sorted and deduplicated. Unreadable
// directories and unparseable files are skipped silently.
func Families() []string {
	return familiesIn(searchDirs())
}

func familiesIn(dirs []string) []string {
	seen := make(map[string]bool)
	families := []string{}

	for _, dir := range dirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || !knownExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			for _, fam := range familyNames(path) {
				if !seen[fam] {
					seen[fam] = true
					families = append(families, fam)
				}
			}
			return nil
		})
	}

	sort.Strings(families)
	return families
}

// familyNames extracts the family names in one font file. Collections can
// carry several faces.
func familyNames(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	coll, err := sfnt.ParseCollection(data)
	if err != nil {
		return nil
	}

	var names []string
	var buf sfnt.Buffer
	for i := 0; i < coll.NumFonts(); i++ {
		f, err := coll.Font(i)
		if err != nil {
			continue
		}
		name, err := f.Name(&buf, sfnt.NameIDFamily)
		if err != nil || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// searchDirs returns the platform's font directories, user paths included.
func searchDirs() []string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "darwin":
		dirs := []string{
			"/System/Library/Fonts",
			"/Library/Fonts",
		}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Fonts"))
		}
		return dirs

	case "windows":
		windir := os.Getenv("WINDIR")
		if windir == "" {
			windir = `C:\Windows`
		}
		dirs := []string{filepath.Join(windir, "Fonts")}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, filepath.Join(local, "Microsoft", "Windows", "Fonts"))
		}
		return dirs

	default:
		dirs := []string{
			"/usr/share/fonts",
			"/usr/local/share/fonts",
		}
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" && home != "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		if dataHome != "" {
			dirs = append(dirs, filepath.Join(dataHome, "fonts"))
		}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, ".fonts"))
		}
		return dirs
	}
}
