package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultyWriteLimit(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule(".bad", Fault{FailAfterBytes: 4})

	f, err := Create(ffs, filepath.Join(dir, "x.bad"))
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = f.Write([]byte("de"))
	assert.True(t, errors.Is(err, ErrInjected))
	require.NoError(t, f.Close())

	g, err := Create(ffs, filepath.Join(dir, "x.good"))
	require.NoError(t, err)
	_, err = g.Write(make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestFaultySyncCloseOpen(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(Default)
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true})
	ffs.AddRule("open", Fault{FailOnOpen: true})

	f, err := Create(ffs, filepath.Join(dir, "sync"))
	require.NoError(t, err)
	assert.Error(t, f.Sync())
	require.NoError(t, f.Close())

	f, err = Create(ffs, filepath.Join(dir, "close"))
	require.NoError(t, err)
	assert.True(t, errors.Is(f.Close(), ErrInjected))

	_, err = Create(ffs, filepath.Join(dir, "open"))
	assert.True(t, errors.Is(err, ErrInjected))
	_, statErr := os.Stat(filepath.Join(dir, "open"))
	assert.True(t, os.IsNotExist(statErr))
}
