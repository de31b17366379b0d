package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
)

// List returns the names of the segments in dir that have a field
// directory written with suffix, sorted. A missing dir holds no segments.
// With an empty suffix "seg_ner.fwf" also matches by name, so the header
// decides; a candidate whose header cannot be read is kept for Open to
// report.
func List(fsys fs.FileSystem, dir, suffix string) ([]string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading segment directory: %w", err)
	}
	tail := FileName("", suffix, KindFields)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), tail)
		if !ok || name == "" {
			continue
		}
		if got, err := headerSuffix(fsys, filepath.Join(dir, e.Name())); err == nil && got != suffix {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes every companion file of a segment. Files that do not
// exist are ignored; the first other error is returned.
func Remove(fsys fs.FileSystem, dir, name, suffix string) error {
	if fsys == nil {
		fsys = fs.Default
	}
	var first error
	for k := Kind(0); k < numKinds; k++ {
		path := filepath.Join(dir, FileName(name, suffix, k))
		if err := fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return first
}

func headerSuffix(fsys fs.FileSystem, path string) (string, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, _, err := ReadHeader(f)
	if err != nil {
		return "", err
	}
	return h.Suffix, nil
}
