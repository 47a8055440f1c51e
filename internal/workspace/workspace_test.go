package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RejectsRelativeRoot(t *testing.T) {
	_, err := NewManager("relative/scratch")
	assert.ErrorIs(t, err, ErrRelativeRoot)
}

func TestNewManager_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")

	m, err := NewManager(root)
	require.NoError(t, err)
	assert.Equal(t, root, m.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWorkspace_SaveAndCleanup(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws := m.ForJob("job-1")

	// Directory is lazy: not created until the first Save.
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))

	path, err := ws.Save("input.mp3", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "input.mp3"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, ws.Cleanup())

	// Both the file and the now-empty directory are gone.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_SaveStripsDirectoryComponents(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws := m.ForJob("job-1")
	path, err := ws.Save("../../escape.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "escape.txt"), path)

	require.NoError(t, ws.Cleanup())
}

func TestWorkspace_CleanupTracksExternalFiles(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws := m.ForJob("job-2")
	_, err = ws.Save("input.wav", []byte("wav"))
	require.NoError(t, err)

	// Simulate a transcoder writing an output file into the workspace.
	out := ws.Path("input.mp3")
	require.NoError(t, os.WriteFile(out, []byte("mp3"), 0600))
	ws.Track(out)

	require.NoError(t, ws.Cleanup())

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_CleanupKeepsDirWithUntrackedFiles(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws := m.ForJob("job-3")
	_, err = ws.Save("tracked.txt", []byte("t"))
	require.NoError(t, err)

	untracked := filepath.Join(ws.Dir(), "untracked.txt")
	require.NoError(t, os.WriteFile(untracked, []byte("u"), 0600))

	require.NoError(t, ws.Cleanup())

	// The untracked file and its directory survive.
	_, err = os.Stat(untracked)
	assert.NoError(t, err)
}

func TestWorkspace_CleanupIsIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws := m.ForJob("job-4")
	_, err = ws.Save("f.txt", []byte("f"))
	require.NoError(t, err)

	require.NoError(t, ws.Cleanup())
	require.NoError(t, ws.Cleanup())
}
