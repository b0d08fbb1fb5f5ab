package store

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store is a small persistent key-value store for calibration data.
type Store interface {
	// Load returns the bytes stored under key, or false when the key is unknown.
	Load(key string) ([]byte, bool)
	// Store writes value under key and persists it.
	Store(key string, value []byte) error
}

var (
	_ Store = &File{}
	_ Store = &Memory{}
)

// File keeps all keys in one JSON document. Values are base64 encoded by
// encoding/json.
type File struct {
	mu       sync.RWMutex
	filepath string
	data     map[string][]byte
}

// NewFile opens the store at path. A missing or empty file yields an empty store.
func NewFile(path string) (*File, error) {
	f := &File{filepath: path, data: map[string][]byte{}}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open store %s", f.filepath)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close store %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read store %s", f.filepath)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil
	}

	data := map[string][]byte{}
	if err := json.Unmarshal(b, &data); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal store %s", f.filepath)
	}
	f.data = data
	return nil
}

func (f *File) Load(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Store updates the key and rewrites the whole file through a temporary
// file and a rename.
func (f *File) Store(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	f.data[key] = v

	b, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to marshal store %s", f.filepath)
	}
	if dir := filepath.Dir(f.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pkgerrors.Wrapf(err, "failed to create store directory %s", dir)
		}
	}
	tmp := f.filepath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write store %s", tmp)
	}
	if err := os.Rename(tmp, f.filepath); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace store %s", f.filepath)
	}
	return nil
}

// Memory is a process-local store, used for tests and when no store path is set.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	// Writes counts successful Store calls.
	Writes int
	// Err, when set, is returned by Store and nothing is written.
	Err error
}

func NewMemory() *Memory { return &Memory{data: map[string][]byte{}} }

func (m *Memory) Load(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *Memory) Store(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data[key] = append([]byte(nil), value...)
	m.Writes++
	return nil
}

// WriteCount returns Writes under the lock.
func (m *Memory) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Writes
}
