package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/and161185/carecard/internal/errs"
)

const tmpPrefix = ".tmp-"

var keyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// File is a Store keeping one file per key inside a profile directory.
// Several processes may open the same directory; the last writer wins.
type File struct {
	dir string

	mu    sync.Mutex
	known map[string]string // last value this process wrote or observed
}

var _ Store = (*File)(nil)

// OpenFile prepares dir (0700) and returns a store rooted there.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}
	return &File{dir: dir, known: make(map[string]string)}, nil
}

// Dir returns the profile directory.
func (f *File) Dir() string { return f.dir }

func (f *File) path(key string) (string, error) {
	if !keyRe.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}

// Get reads key from disk.
func (f *File) Get(key string) (string, error) {
	p, err := f.path(key)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Set writes key atomically through a temp file and rename.
func (f *File) Set(key, value string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.known[key] = value
	f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, tmpPrefix+key+"-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Remove deletes key's file.
func (f *File) Remove(key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.known, key)
	f.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// observe reconciles key with disk and reports whether it changed since this
// process last wrote or observed it.
func (f *File) observe(key string) (ev changed, ok bool) {
	cur, err := f.Get(key)
	present := err == nil
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return changed{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.known[key]
	switch {
	case present && had && prev == cur:
		return changed{}, false
	case !present && !had:
		return changed{}, false
	case present:
		f.known[key] = cur
		return changed{key: key, old: prev, new: cur}, true
	default:
		delete(f.known, key)
		return changed{key: key, old: prev, removed: true}, true
	}
}

// prime records the current on-disk values as known.
func (f *File) prime() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) || !keyRe.MatchString(e.Name()) {
			continue
		}
		if v, err := f.Get(e.Name()); err == nil {
			f.mu.Lock()
			f.known[e.Name()] = v
			f.mu.Unlock()
		}
	}
	return nil
}

type changed struct {
	key     string
	old     string
	new     string
	removed bool
}
