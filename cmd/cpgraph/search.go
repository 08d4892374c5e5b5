package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/embedding"
	"github.com/cpgraph/engine/internal/retrieval"
)

func searchCmd() *cobra.Command {
	var (
		branch   string
		strategy string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search <repo_url> <query>",
		Short: "Retrieve ranked, context-enriched chunks for a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), args[0], args[1], branch, strategy, limit, cmd)
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch whose active snapshot is searched (default: remote's HEAD)")
	cmd.Flags().StringVar(&strategy, "strategy", string(retrieval.StrategyHybrid), "Retrieval strategy: vector, keyword or hybrid")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (overrides SEARCH_LIMIT)")

	return cmd
}

func runSearch(ctx context.Context, repoURL, queryText, branch, strategy string, limit int, cmd *cobra.Command) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	strat := retrieval.Strategy(strategy)
	switch strat {
	case retrieval.StrategyVector, retrieval.StrategyKeyword, retrieval.StrategyHybrid:
	default:
		return cpgerrors.Usage("unknown retrieval strategy "+strategy, nil)
	}

	var provider embedding.Provider
	if strat != retrieval.StrategyKeyword {
		endpoint := cfg.EmbeddingEndpoint()
		if endpoint.IsConfigured() {
			provider = embedding.NewOpenAIProvider(endpoint.APIKey(), endpoint.Model(), endpoint.BaseURL())
		}
	}

	repo, err := store.EnsureRepository(ctx, repoURL, branch, repoDisplayName(repoURL))
	if err != nil {
		return err
	}

	if limit <= 0 {
		limit = cfg.SearchLimit()
	}
	engine := retrieval.New(store, provider)
	results, err := engine.Retrieve(ctx, retrieval.Query{
		Text:     queryText,
		RepoID:   repo.ID(),
		Limit:    limit,
		Strategy: strat,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	return nil
}
