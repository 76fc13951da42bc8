package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	recordFilePrefix = "timings_"
	recordFileExt    = ".json"
	indexFileName    = "index.json"
)

// FileBackend stores each record as a JSON file in a single directory:
//
//	<dir>/timings_<lat>_<lng>_m<method>_<YYYY-MM-DD>.json
//	<dir>/index.json
type FileBackend struct {
	dir string
}

// DefaultDir returns ~/.cache/prayer-alarms.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "prayer-alarms"), nil
}

// NewFileBackend creates a backend rooted at dir (DefaultDir when empty).
// The directory is created by Init, not here.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the backing directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) Init(ctx context.Context) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("cannot create cache directory %s: %w", b.dir, err)
	}
	return nil
}

func (b *FileBackend) recordPath(key RecordKey) string {
	return filepath.Join(b.dir, recordFilePrefix+key.String()+recordFileExt)
}

func (b *FileBackend) ReadRecord(ctx context.Context, key RecordKey) ([]byte, error) {
	return readFile(b.recordPath(key))
}

func (b *FileBackend) WriteRecord(ctx context.Context, key RecordKey, data []byte) error {
	return writeFileAtomic(b.recordPath(key), data)
}

func (b *FileBackend) DeleteRecord(ctx context.Context, key RecordKey) error {
	return removeFile(b.recordPath(key))
}

func (b *FileBackend) ReadIndex(ctx context.Context) ([]byte, error) {
	return readFile(filepath.Join(b.dir, indexFileName))
}

func (b *FileBackend) WriteIndex(ctx context.Context, data []byte) error {
	return writeFileAtomic(filepath.Join(b.dir, indexFileName), data)
}

func (b *FileBackend) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list cache directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, recordFilePrefix) || name == indexFileName) {
			continue
		}
		if err := removeFile(filepath.Join(b.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

// writeFileAtomic writes to a temp file then renames it over path, so a
// crash never leaves a half-written record behind. Each write gets its own
// temp file, so processes sharing the directory never write into each
// other's.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr, os.Chmod(tmp.Name(), 0o644)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}
