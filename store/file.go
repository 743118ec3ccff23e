package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ Store = (*File)(nil)

// File keeps all entries in one JSON object on disk. Every Set rewrites the file.
type File struct {
	path    string
	entries map[string]json.RawMessage
	lock    sync.Mutex
}

// NewFile opens the store at path. A missing file is an empty store.
func NewFile(path string) (*File, error) {
	f := &File{path: path, entries: make(map[string]json.RawMessage)}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[store.NewFile] read %s: %w", path, err)
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.entries); err != nil {
		return nil, fmt.Errorf("[store.NewFile] decode %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string, v any) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	b, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (f *File) Set(_ context.Context, key string, v any) error {
	if key == "" {
		return ErrInvalidKey
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.entries[key] = b
	return f.flush()
}

func (f *File) Delete(_ context.Context, key string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, ok := f.entries[key]; !ok {
		return nil
	}
	delete(f.entries, key)
	return f.flush()
}

// flush writes to a temporary file and renames it over the store.
func (f *File) flush() error {
	b, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("[store.File] create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("[store.File] create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("[store.File] write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[store.File] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[store.File] close: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}
