package analysis

import "sort"

// skipDirs is the directory denylist shared by both analyzers.
var skipDirs = map[string]bool{
	".eggs":            true,
	".git":             true,
	".mypy_cache":      true,
	".next":            true,
	".pytest_cache":    true,
	".tox":             true,
	".venv":            true,
	"__pycache__":      true,
	"bower_components": true,
	"build":            true,
	"coverage":         true,
	"dist":             true,
	"env":              true,
	"node_modules":     true,
	"site-packages":    true,
	"target":           true,
	"vendor":           true,
	"venv":             true,
}

// SkipDir reports whether a directory with this base name is excluded from
// analysis.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// SkippedDirs returns the denylist in sorted order.
func SkippedDirs() []string {
	out := make([]string, 0, len(skipDirs))
	for d := range skipDirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
