package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "calibration.json")

	f, err := NewFile(path)
	require.NoError(t, err)
	_, ok := f.Load("mq7c")
	assert.False(t, ok)

	require.NoError(t, f.Store("mq7c", []byte{0x07, 0x08}))
	require.NoError(t, f.Store("mq7a", []byte{1}))

	reopened, err := NewFile(path)
	require.NoError(t, err)
	v, ok := reopened.Load("mq7c")
	require.True(t, ok)
	assert.Equal(t, []byte{0x07, 0x08}, v)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileEmptyAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err := NewFile(empty)
	assert.NoError(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = NewFile(bad)
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Store("k", []byte{1}))
	assert.Equal(t, 1, m.WriteCount())

	m.Err = errors.New("flash worn out")
	assert.Error(t, m.Store("k", []byte{2}))
	v, _ := m.Load("k")
	assert.Equal(t, []byte{1}, v)
	assert.Equal(t, 1, m.WriteCount())
}

func TestLoadReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(filepath.Join(dir, "cal.json"))
	require.NoError(t, err)

	for name, s := range map[string]Store{"memory": NewMemory(), "file": f} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Store("oc", []byte{0x07, 0x08}))
			v, ok := s.Load("oc")
			require.True(t, ok)
			v[0] = 0xFF

			again, _ := s.Load("oc")
			assert.Equal(t, []byte{0x07, 0x08}, again)
		})
	}
}
