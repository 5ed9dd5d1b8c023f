package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/renameio/v2/maybe"
)

// Backend reads and writes the serialized cache as one unit.
type Backend interface {
	// Read returns the persisted bytes, or nil when nothing was persisted yet.
	Read() ([]byte, error)
	// Write replaces the persisted bytes. Readers of the underlying storage
	// must observe either the old or the new contents, never a mix.
	Write(data []byte) error
}

// FileBackend stores the cache in a single JSON file.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a backend for path. The parent directory is created
// on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Write replaces the file atomically through renameio and then syncs the
// parent directory so the rename survives a crash.
func (b *FileBackend) Write(data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := maybe.WriteFile(b.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync cache directory: %w", err)
	}
	return nil
}

// syncDir flushes directory entries. Windows cannot open directories for
// syncing, so it is a no-op there.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// MemoryBackend keeps the serialized cache in memory. It backs --no-cache
// runs and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int

	// ReadErr and WriteErr, when set, are returned instead of touching data.
	ReadErr  error
	WriteErr error
}

// NewMemoryBackend returns a backend preloaded with data.
func NewMemoryBackend(data []byte) *MemoryBackend {
	return &MemoryBackend{data: data}
}

func (b *MemoryBackend) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

// Bytes returns the last written contents.
func (b *MemoryBackend) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Writes returns how many successful writes happened.
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}
