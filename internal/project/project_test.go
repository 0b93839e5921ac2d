package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_MissingRoot(t *testing.T) {
	projects, err := Scan(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestScan_ListsDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "-home-me-beta"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "-home-me-alpha"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	projects, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "-home-me-alpha", projects[0].ID)
	assert.Equal(t, "-home-me-beta", projects[1].ID)
	assert.Equal(t, filepath.Join(root, "-home-me-alpha"), projects[0].Path)
	assert.False(t, projects[0].ModifiedAt.IsZero())
}

func TestGet_WithIndex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	index := `{"sessions":[{"id":"s1","name":"first"},{"id":"s2"},{"name":"no id"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), []byte(index), 0o644))

	p, err := Get(root, "proj")
	require.NoError(t, err)
	assert.Equal(t, "proj", p.ID)
	assert.Equal(t, []string{"s1", "s2"}, p.Sessions)
}

func TestGet_MalformedIndex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), []byte("{"), 0o644))

	p, err := Get(root, "proj")
	require.NoError(t, err)
	assert.Empty(t, p.Sessions)
}

func TestGet_NotFound(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"missing", "", "..", "a/b"} {
		_, err := Get(root, id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
}

func TestIDFromPath(t *testing.T) {
	root := "/data/projects"
	assert.Equal(t, "proj", IDFromPath(root, "/data/projects/proj/abc.jsonl"))
	assert.Equal(t, "proj", IDFromPath(root, "/data/projects/proj"))
	assert.Equal(t, "", IDFromPath(root, "/data/projects"))
	assert.Equal(t, "", IDFromPath(root, "/elsewhere/x"))
	assert.Equal(t, "", IDFromPath(root, "/data/projects/.hidden/x"))
}
