// Package cache is the filesystem-backed asset cache: a flat directory of
// files named asset-<id>.<ext>. There is deliberately no metadata database;
// presence on disk is the only record.
package cache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoCacheDirectory means the cache directory could not be created or
// listed.
var ErrNoCacheDirectory = errors.New("no cache directory")

// BaseName returns the extension-less cache file name for an asset.
func BaseName(assetID string) string {
	return "asset-" + assetID
}

// FileName returns the cache file name for an asset in the given format.
func FileName(assetID string, format Format) string {
	return BaseName(assetID) + "." + format.Ext()
}

// EnsureDir creates the cache directory if it does not exist.
func EnsureDir(dir string) error {
	if dir == "" {
		return errors.Wrap(ErrNoCacheDirectory, "[EnsureDir] empty path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(ErrNoCacheDirectory, err.Error())
	}
	return nil
}

// Probe looks for an already-cached file for assetID. It takes one snapshot
// of the directory listing and matches the base name before the first dot,
// so the extension the file was stored under does not matter.
func Probe(dir, assetID string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, errors.Wrap(ErrNoCacheDirectory, err.Error())
	}
	want := BaseName(assetID)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base, _, _ := strings.Cut(name, ".")
		if base == want {
			return filepath.Join(dir, name), true, nil
		}
	}
	return "", false, nil
}
