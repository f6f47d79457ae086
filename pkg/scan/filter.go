package scan

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/sidkik/syncotter/pkg/errors"
)

// Filter decides which parts of the source tree are ignored.
type Filter struct {
	dirs     map[string]struct{}
	patterns []glob.Glob
}

// NewFilter compiles the exclusion rules. `excludeDirs` are directory names
// that are skipped wherever they appear in the tree, and `excludePatterns`
// are wildcard patterns matched against file names. A `*` matches any
// sequence of characters, and every other character matches itself.
func NewFilter(excludeDirs, excludePatterns []string) (*Filter, error) {
	filter := &Filter{dirs: map[string]struct{}{}}
	for _, dir := range excludeDirs {
		if dir = strings.TrimSpace(dir); dir != "" {
			filter.dirs[dir] = struct{}{}
		}
	}

	for _, pattern := range excludePatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if strings.ContainsAny(pattern, `/\`) {
			return nil, errors.ConfigError{
				Reason: "exclude pattern " + pattern + " must match file names, not paths",
			}
		}

		compiled, err := glob.Compile(literalExceptStar(pattern))
		if err != nil {
			return nil, errors.ConfigError{
				Reason: errors.WithContext(err, "exclude pattern "+pattern).Error(),
			}
		}
		filter.patterns = append(filter.patterns, compiled)
	}
	return filter, nil
}

// ExcludesDir returns whether directories named `name` are skipped.
func (filter *Filter) ExcludesDir(name string) bool {
	if filter == nil {
		return false
	}

	_, ok := filter.dirs[name]
	return ok
}

// Excludes returns whether the file at `relPath`, relative to the root of
// the source tree, is ignored.
func (filter *Filter) Excludes(relPath string) bool {
	if filter == nil {
		return false
	}

	segments := strings.Split(filepath.ToSlash(relPath), "/")
	for _, dir := range segments[:len(segments)-1] {
		if filter.ExcludesDir(dir) {
			return true
		}
	}

	name := segments[len(segments)-1]
	for _, pattern := range filter.patterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}

// literalExceptStar escapes the glob syntax in `pattern`, other than `*`.
func literalExceptStar(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = glob.QuoteMeta(part)
	}
	return strings.Join(parts, "*")
}
