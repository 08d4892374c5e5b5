package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpgraph/engine/internal/collector"
	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/indexer"
	"github.com/cpgraph/engine/internal/storage"
)

func indexCmd() *cobra.Command {
	var (
		branch string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "index <repo_url>",
		Short: "Index a repository into a new snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args[0], branch, force, cmd)
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to index (default: remote's HEAD)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-index even if a snapshot for the resolved commit already exists")

	return cmd
}

func runIndex(ctx context.Context, repoURL, branch string, force bool, cmd *cobra.Command) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	logger := newLogger(cfg)
	if err := cfg.EnsureRepoVolume(); err != nil {
		return err
	}
	worktrees := collector.NewWorktreeManager(cfg.RepoVolume(), logger)

	name := repoDisplayName(repoURL)
	if !force {
		if activeID, skip, err := alreadyIndexed(ctx, store, worktrees, repoURL, branch, name); err != nil {
			return err
		} else if skip {
			fmt.Fprintln(cmd.OutOrStdout(), activeID)
			return nil
		}
	}

	orch := indexer.New(store, worktrees, logger).WithWorkerCount(cfg.WorkerCount())
	snap, err := orch.Index(ctx, repoURL, branch, name)
	if err != nil {
		var cpgErr *cpgerrors.Error
		if errors.As(err, &cpgErr) && cpgErr.Kind == cpgerrors.KindConflict {
			fmt.Fprintln(cmd.OutOrStdout(), "queued")
			return nil
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), snap.ID())
	return nil
}

// alreadyIndexed reports whether the repository's currently active snapshot
// already points at the commit branch would resolve to, making a fresh
// index() call a no-op absent --force. It also returns that active
// snapshot's id, which the no-op prints in place of a new one.
func alreadyIndexed(ctx context.Context, store *storage.Store, worktrees *collector.WorktreeManager, repoURL, branch, name string) (int64, bool, error) {
	repo, err := store.EnsureRepository(ctx, repoURL, branch, name)
	if err != nil {
		return 0, false, err
	}
	active, err := store.ActiveSnapshotOf(ctx, repo.ID())
	if err != nil {
		var cpgErr *cpgerrors.Error
		if errors.As(err, &cpgErr) && cpgErr.Kind == cpgerrors.KindState {
			return 0, false, nil
		}
		return 0, false, err
	}
	if active.ID() == 0 {
		return 0, false, nil
	}
	commitHash, err := worktrees.ResolveCommit(ctx, repoURL, branch)
	if err != nil {
		return 0, false, err
	}
	return active.ID(), active.CommitHash() == commitHash, nil
}

func repoDisplayName(repoURL string) string {
	for i := len(repoURL) - 1; i >= 0; i-- {
		if repoURL[i] == '/' {
			return trimGitSuffix(repoURL[i+1:])
		}
	}
	return trimGitSuffix(repoURL)
}

func trimGitSuffix(name string) string {
	const suffix = ".git"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}
