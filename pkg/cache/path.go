package cache

import (
	"os"
	"path/filepath"
)

const (
	// DirName is the directory under the user cache root.
	DirName = "zombie-detector"
	// FileName is the cache document name.
	FileName = "github_cache.json"
)

// DefaultPath returns the cache file location: $XDG_CACHE_HOME when set,
// otherwise ~/.cache.
func DefaultPath() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, DirName, FileName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cache", DirName, FileName), nil
}
