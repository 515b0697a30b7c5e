package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/creachadair/atomicfile"
)

// File is a Store persisted as a single JSON snapshot. Every Set rewrites
// the snapshot through an atomic rename, so a crash mid-write leaves either
// the old or the new contents, never a torn file.
type File struct {
	path string

	mu sync.Mutex
	m  map[string][]byte
}

// OpenFile opens or creates a file-backed store at path. A missing file is
// treated as an empty store; the file is not created until the first Set.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, m: make(map[string][]byte)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	} else if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := json.Unmarshal(data, &f.m); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	return f, nil
}

// Get implements part of Store.
func (f *File) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set implements part of Store. The updated snapshot is written before Set
// returns; on write failure the in-memory value is rolled back so the store
// continues to reflect what is on disk.
func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		return fmt.Errorf("set %q: store is closed", key)
	}

	old, had := f.m[key]
	cp := make([]byte, len(value))
	copy(cp, value)
	f.m[key] = cp

	if err := f.flushLocked(); err != nil {
		if had {
			f.m[key] = old
		} else {
			delete(f.m, key)
		}
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

func (f *File) flushLocked() error {
	data, err := json.Marshal(f.m)
	if err != nil {
		return err
	}
	return atomicfile.Tx(f.path, 0600, func(out *atomicfile.File) error {
		_, err := out.Write(data)
		return err
	})
}

// Reload discards the in-memory snapshot and re-reads the file, picking up
// changes made by another process.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		data = []byte("{}")
	} else if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	m := make(map[string][]byte)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m = m
	return nil
}

// Close implements part of Store. The snapshot is already durable, so Close
// only invalidates the handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m = nil
	return nil
}
