package pathenc

import (
	"path/filepath"
	"strings"
)

// Encode turns an absolute host path into a flat, filesystem-safe name:
// the leading separator is stripped and the remaining separators become a
// double underscore ("/home/tim/shared" -> "home__tim__shared").
//
// The mapping is not reversible for paths whose segments themselves contain
// "__" (such a path collides with its flattened form), but those never occur
// among the bind sources captured here; for realistic paths distinct inputs
// map to distinct names.
func Encode(path string) string {
	clean := filepath.Clean(path)
	return strings.ReplaceAll(strings.TrimPrefix(clean, "/"), "/", "__")
}

// ArchiveName returns the bind-mount archive filename for a source path.
func ArchiveName(path string) string {
	return Encode(path) + ".tar.gz"
}

// Basename recovers the final path segment from an encoded name, used when a
// copied file needs its original basename back (e.g. compose files placed in
// a restore working directory).
func Basename(encoded string) string {
	if i := strings.LastIndex(encoded, "__"); i >= 0 {
		return encoded[i+2:]
	}
	return encoded
}
