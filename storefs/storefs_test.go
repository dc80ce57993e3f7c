package storefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distribution/registry-gc/internal/dcontext"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListDirAndIsDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "f1"), "x")
	writeFile(t, filepath.Join(root, "a", "f2"), "y")

	a := New(false)
	require.True(t, a.IsDir(filepath.Join(root, "a")))
	require.False(t, a.IsDir(filepath.Join(root, "a", "f1")))

	names, err := a.ListDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"f1", "f2"}, names)

	_, err = a.ListDir(filepath.Join(root, "a", "f1"))
	require.Error(t, err)
}

func TestWalkYieldsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "link"), "sha256:aa")
	writeFile(t, filepath.Join(root, "x", "y", "link"), "sha256:bb")

	a := New(false)
	var seen []string
	err := a.Walk(root, func(dir, name string) error {
		seen = append(seen, filepath.Join(dir, name))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
}

func TestWalkMissingRootIsNotError(t *testing.T) {
	a := New(false)
	err := a.Walk(filepath.Join(t.TempDir(), "missing"), func(dir, name string) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
}

// P2: dry-run is a no-op.
func TestRemoveTreeDryRunIsNoOp(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "repo")
	writeFile(t, filepath.Join(target, "_layers", "sha256", "aa", "link"), "sha256:aa")

	before, err := dirSnapshot(root)
	require.NoError(t, err)

	a := New(true)
	stats, err := a.RemoveTree(dcontext.Background(), target)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Files)

	after, err := dirSnapshot(root)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRemoveTreeDeletes(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "repo")
	writeFile(t, filepath.Join(target, "file"), "data")

	a := New(false)
	_, err := a.RemoveTree(dcontext.Background(), target)
	require.NoError(t, err)
	require.NoDirExists(t, target)
}

// P4: Prune preserves ROOT and removes exactly the directories that
// contain no files transitively.
func TestRemoveEmptyDirsPreservesRootAndPrunesEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "file"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755))

	a := New(false)
	require.NoError(t, a.RemoveEmptyDirs(dcontext.Background(), root))

	require.DirExists(t, root)
	require.DirExists(t, filepath.Join(root, "keep"))
	require.FileExists(t, filepath.Join(root, "keep", "file"))
	require.NoDirExists(t, filepath.Join(root, "empty"))
}

func TestRemoveEmptyDirsPreservesEmptyRoot(t *testing.T) {
	root := t.TempDir()
	a := New(false)
	require.NoError(t, a.RemoveEmptyDirs(dcontext.Background(), root))
	require.DirExists(t, root)
}

func dirSnapshot(root string) (map[string]int64, error) {
	snap := map[string]int64{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			snap[path] = info.Size()
		}
		return nil
	})
	return snap, err
}
