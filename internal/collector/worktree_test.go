package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func seedRepo(t *testing.T) (path, commitHash string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestWorktreeManager_EnsureMirrorAndCheckout(t *testing.T) {
	srcDir, commitHash := seedRepo(t)
	volume := t.TempDir()

	mgr := NewWorktreeManager(volume, nil)

	mirror, err := mgr.EnsureMirror(context.Background(), srcDir)
	require.NoError(t, err)
	require.DirExists(t, mirror)

	wtPath, err := mgr.Checkout(context.Background(), srcDir, commitHash, "snap-1")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(wtPath, "main.go"))

	require.NoError(t, mgr.Remove(srcDir, "snap-1"))
	require.NoDirExists(t, wtPath)
}

func TestWorktreeManager_RepoDirIsStableHash(t *testing.T) {
	mgr := NewWorktreeManager(t.TempDir(), nil)
	a := mgr.RepoDir("https://example.com/foo.git")
	b := mgr.RepoDir("https://example.com/foo.git")
	c := mgr.RepoDir("https://example.com/bar.git")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
