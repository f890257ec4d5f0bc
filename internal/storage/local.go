package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider stores bytes under a root directory on the local
// filesystem. Every resolved path is re-verified to stay under root before
// any read, write, or delete.
type LocalProvider struct {
	root string
}

// NewLocalProvider creates a provider rooted at dir, creating it if needed.
func NewLocalProvider(dir string) (*LocalProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolving data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating data root: %w", err)
	}
	return &LocalProvider{root: abs}, nil
}

// resolve maps a storage key onto a path under root, rejecting any key that
// contains a ".." component or is an absolute path. Symbolic links under
// root are not resolved or checked.
func (l *LocalProvider) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") || filepath.IsAbs(key) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	for _, part := range strings.Split(filepath.ToSlash(key), "/") {
		if part == ".." {
			return "", fmt.Errorf("storage: key %q escapes data root", key)
		}
	}
	clean := filepath.Clean("/" + key)
	full := filepath.Join(l.root, clean)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: key %q escapes data root", key)
	}
	return full, nil
}

func (l *LocalProvider) Put(ctx context.Context, key string, data io.Reader, size int64, mime string) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: creating parent dirs for %q: %w", key, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("storage: creating file for %q: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("storage: writing %q: %w", key, err)
	}
	return nil
}

func (l *LocalProvider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %q: %w", key, err)
	}
	return f, nil
}

func (l *LocalProvider) Delete(ctx context.Context, key string) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting %q: %w", key, err)
	}
	return nil
}

func (l *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	full, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(full, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %q: %w", prefix, err)
	}
	return out, nil
}

func (l *LocalProvider) Head(ctx context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("storage: data root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: data root %q is not a directory", l.root)
	}
	return nil
}
