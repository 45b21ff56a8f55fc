package loader

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// Glob expands doublestar patterns against fsys. Results are sorted and
// unique. A pattern without meta characters must name an existing file.
func Glob(fsys afero.Fs, patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}

		if !strings.ContainsAny(pattern, "*?[{") {
			if ok, err := afero.Exists(fsys, pattern); err != nil || !ok {
				return nil, fmt.Errorf("no file matches %q", pattern)
			}
			if !seen[pattern] {
				seen[pattern] = true
				out = append(out, pattern)
			}
			continue
		}

		base, rest := doublestar.SplitPattern(pattern)
		root := fsys
		if base != "." {
			root = afero.NewBasePathFs(fsys, base)
		}
		matches, err := doublestar.Glob(afero.NewIOFS(root), rest, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", pattern, err)
		}
		for _, m := range matches {
			full := m
			if base != "." {
				full = path.Join(base, m)
			}
			if !seen[full] {
				seen[full] = true
				out = append(out, full)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
