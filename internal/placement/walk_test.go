package placement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(f), 0o640))
	}
}

func TestWalkListsAllFilesByDefault(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.bin", "sub/b.bin", "sub/deep/c.txt")

	files, err := Walk(root, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.bin", "sub/b.bin", "sub/deep/c.txt"}, files)
}

func TestWalkIncludeMatchesBaseName(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.bin", "sub/b.bin", "sub/c.txt")

	files, err := Walk(root, []string{"*.bin"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.bin", "sub/b.bin"}, files)
}

func TestWalkExcludeWinsOverInclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "keep.bin", "drop.bin")

	files, err := Walk(root, []string{"*.bin"}, []string{"drop.bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.bin"}, files)
}

func TestWalkMissingRootFails(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "absent"), nil, nil)
	assert.Error(t, err)
}
