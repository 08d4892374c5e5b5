package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/cpgraph/engine/internal/cpgerrors"
)

// WorktreeManager ensures a bare mirror exists for a repository and checks
// out ephemeral worktrees at arbitrary commits, laid out under a repo
// volume as <volume>/<hash(url)>/{mirror/, worktrees/<snapshot>/}.
//
// Access to a single repository's mirror is serialized by a per-repo mutex;
// worktrees are per-snapshot and do not contend with each other.
type WorktreeManager struct {
	volume string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWorktreeManager creates a WorktreeManager rooted at volume.
func NewWorktreeManager(volume string, logger *slog.Logger) *WorktreeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorktreeManager{volume: volume, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// RepoDir returns <volume>/<hash(url)>.
func (m *WorktreeManager) RepoDir(remoteURL string) string {
	sum := sha256.Sum256([]byte(remoteURL))
	return filepath.Join(m.volume, hex.EncodeToString(sum[:])[:16])
}

func (m *WorktreeManager) mirrorDir(remoteURL string) string {
	return filepath.Join(m.RepoDir(remoteURL), "mirror")
}

func (m *WorktreeManager) worktreeDir(remoteURL, snapshotRef string) string {
	return filepath.Join(m.RepoDir(remoteURL), "worktrees", snapshotRef)
}

func (m *WorktreeManager) repoLock(remoteURL string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[remoteURL]
	if !ok {
		l = &sync.Mutex{}
		m.locks[remoteURL] = l
	}
	return l
}

// EnsureMirror clones a bare mirror of remoteURL if absent, otherwise
// fetches updates into it. It is safe to call concurrently for the same
// remoteURL; calls serialize on a per-repository mutex.
func (m *WorktreeManager) EnsureMirror(ctx context.Context, remoteURL string) (string, error) {
	lock := m.repoLock(remoteURL)
	lock.Lock()
	defer lock.Unlock()

	mirror := m.mirrorDir(remoteURL)
	if _, err := os.Stat(filepath.Join(mirror, "HEAD")); err == nil {
		repo, err := git.PlainOpen(mirror)
		if err != nil {
			return "", cpgerrors.Transient("open mirror", err)
		}
		if err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
			return "", cpgerrors.Transient("fetch mirror", err)
		}
		return mirror, nil
	}

	if err := os.MkdirAll(filepath.Dir(mirror), 0o755); err != nil {
		return "", cpgerrors.Usage("create repo directory", err)
	}
	_, err := git.PlainCloneContext(ctx, mirror, true, &git.CloneOptions{URL: remoteURL})
	if err != nil {
		return "", cpgerrors.Transient("clone mirror", err)
	}
	return mirror, nil
}

// Checkout materializes an ephemeral worktree at commitHash, scoped to
// snapshotRef (typically the snapshot id, or a provisional token before one
// is assigned), and returns its path. The worktree is a fresh on-disk clone
// from the bare mirror, not a shared checkout.
func (m *WorktreeManager) Checkout(ctx context.Context, remoteURL, commitHash, snapshotRef string) (string, error) {
	mirror, err := m.EnsureMirror(ctx, remoteURL)
	if err != nil {
		return "", err
	}

	wtPath := m.worktreeDir(remoteURL, snapshotRef)
	if err := os.RemoveAll(wtPath); err != nil {
		return "", cpgerrors.Usage("clear stale worktree", err)
	}
	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return "", cpgerrors.Usage("create worktree parent", err)
	}

	repo, err := git.PlainCloneContext(ctx, wtPath, false, &git.CloneOptions{URL: mirror})
	if err != nil {
		return "", cpgerrors.Transient("clone worktree from mirror", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", cpgerrors.Data("open worktree", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commitHash), Force: true}); err != nil {
		return "", cpgerrors.Data(fmt.Sprintf("checkout commit %s", commitHash), err)
	}
	return wtPath, nil
}

// Remove deletes an ephemeral worktree.
func (m *WorktreeManager) Remove(remoteURL, snapshotRef string) error {
	return os.RemoveAll(m.worktreeDir(remoteURL, snapshotRef))
}

// ResolveCommit resolves a branch name (or any revision) to a commit hash
// against the bare mirror.
func (m *WorktreeManager) ResolveCommit(ctx context.Context, remoteURL, branch string) (string, error) {
	mirror, err := m.EnsureMirror(ctx, remoteURL)
	if err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(mirror)
	if err != nil {
		return "", cpgerrors.Transient("open mirror", err)
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		h, resolveErr := repo.ResolveRevision(plumbing.Revision(branch))
		if resolveErr != nil {
			return "", cpgerrors.Data(fmt.Sprintf("resolve revision %s", branch), resolveErr)
		}
		return h.String(), nil
	}
	return ref.Hash().String(), nil
}
