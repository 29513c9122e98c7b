package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// FileKV keeps every key in one JSON object persisted to a local file.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated store behind.
type FileKV struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// NewFileKV loads the file at path if it exists. A malformed file is
// discarded and replaced on the next write; this mirrors the silent
// recovery policy for corrupt persisted state.
func NewFileKV(path string) (*FileKV, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrUnavailable)
	}

	entries := make(map[string]string)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &entries); jsonErr != nil {
			log.Printf("[kv] discarding malformed store file %s: %v", path, jsonErr)
			entries = make(map[string]string)
		}
	case os.IsNotExist(err):
		// First run, nothing to load.
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &FileKV{path: path, entries: entries}, nil
}

func (f *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.entries[key]
	return value, ok, nil
}

func (f *FileKV) Set(_ context.Context, key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, had := f.entries[key]
	f.entries[key] = value
	if err := f.writeLocked(); err != nil {
		if had {
			f.entries[key] = previous
		} else {
			delete(f.entries, key)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileKV) writeLocked() error {
	payload, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".kv-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
