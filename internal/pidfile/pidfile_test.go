package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "run", "scriptserve.pid"))
	assert.False(t, p.Exists())

	require.NoError(t, p.Write())
	assert.True(t, p.Exists())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	assert.False(t, p.Exists())
	assert.NoError(t, p.Remove())
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	_, err := New(path).Read()
	assert.Error(t, err)
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))

	p := New(path)
	require.NoError(t, p.Acquire())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	parent := os.Getppid()
	if parent <= 1 || !processAlive(parent) {
		t.Skip("no live parent process to point at")
	}

	path := filepath.Join(t.TempDir(), "live.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(parent)), 0644))

	err := New(path).Acquire()
	assert.ErrorIs(t, err, ErrRunning)
}

func TestReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid()+1)), 0644))

	p := New(path)
	require.NoError(t, p.Release())
	assert.True(t, p.Exists())

	require.NoError(t, p.Write())
	require.NoError(t, p.Release())
	assert.False(t, p.Exists())
	assert.Equal(t, path, p.Path())
}
