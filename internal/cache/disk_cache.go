package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskProvider implements Provider with one directory per named store
// and one file per entry
type DiskProvider struct {
	cacheDir string
}

// NewDisk creates a new disk provider rooted at cacheDir
func NewDisk(cacheDir string) *DiskProvider {
	return &DiskProvider{
		cacheDir: cacheDir,
	}
}

// Init ensures the cache directory exists
func (d *DiskProvider) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

func (d *DiskProvider) Open(name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(d.cacheDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &diskStore{dir: dir}, nil
}

func (d *DiskProvider) Lookup(name string) (Store, error) {
	exists, err := d.Has(name)
	if err != nil || !exists {
		return nil, err
	}
	return &diskStore{dir: filepath.Join(d.cacheDir, name)}, nil
}

func (d *DiskProvider) Has(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(d.cacheDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Names lists store directories in lexical order
func (d *DiskProvider) Names() ([]string, error) {
	entries, err := os.ReadDir(d.cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (d *DiskProvider) Delete(name string) (bool, error) {
	exists, err := d.Has(name)
	if err != nil || !exists {
		return false, err
	}
	if err := os.RemoveAll(filepath.Join(d.cacheDir, name)); err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	logrus.Debugf("Deleted store directory %s", name)
	return true, nil
}

func (d *DiskProvider) Close() error {
	return nil
}

type diskStore struct {
	dir string
}

// entryPath maps a slash separated key to a file inside the store directory.
// Keys are cleaned so they can never escape it.
func (s *diskStore) entryPath(key string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: key %q", ErrInvalidName, key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(cleaned)), nil
}

// Get retrieves a cached entry if it exists
func (s *diskStore) Get(key string) ([]byte, error) {
	p, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores an entry, going through a temporary file so readers never
// observe a partial write
func (s *diskStore) Set(key string, data []byte) error {
	p, err := s.entryPath(key)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return err
	}

	logrus.Debugf("Cached entry: %s", p)
	return nil
}

func (s *diskStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
