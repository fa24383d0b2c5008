package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TimestampFormat names backup directories; lexical order is chronological.
const TimestampFormat = "2006-01-02_150405"

// LatestFile is the single-line pointer to the most recent complete backup.
const LatestFile = "LATEST"

// Finalize publishes backupDir as the latest complete backup. It must only
// be called after every collection step has finished; consumers treat the
// pointer as a completeness guarantee.
func Finalize(root, backupDir string) error {
	abs, err := filepath.Abs(backupDir)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, LatestFile), []byte(abs+"\n"), 0o644)
}

// ReadLatest returns the path stored in the LATEST pointer, or "" when the
// pointer does not exist.
func ReadLatest(root string) (string, error) {
	b, err := os.ReadFile(filepath.Join(root, LatestFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Dirs lists backup directory names under root, newest first. Rotation
// counts every directory; it has no notion of completeness.
func Dirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Rotate deletes backup directories beyond the keep most recent and returns
// the deleted paths.
func Rotate(root string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("rotate: keep must be >= 1, got %d", keep)
	}
	names, err := Dirs(root)
	if err != nil {
		return nil, err
	}
	if len(names) <= keep {
		return nil, nil
	}
	var deleted []string
	for _, name := range names[keep:] {
		p := filepath.Join(root, name)
		if err := os.RemoveAll(p); err != nil {
			return deleted, fmt.Errorf("rotate: delete %s: %w", p, err)
		}
		deleted = append(deleted, p)
	}
	return deleted, nil
}
