package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpgraph/engine/internal/config"
	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/embedding"
)

func embedCmd() *cobra.Command {
	var (
		branch    string
		model     string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "embed <repo_url>",
		Short: "Run the embedding pipeline over a repository's active snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd.Context(), args[0], branch, model, batchSize, cmd)
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch whose active snapshot is embedded (default: remote's HEAD)")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (overrides EMBEDDING_MODEL)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Staging delta fetch size (overrides BATCH_SIZE)")

	return cmd
}

func runEmbed(ctx context.Context, repoURL, branch, model string, batchSize int, cmd *cobra.Command) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	endpoint := cfg.EmbeddingEndpoint()
	if !endpoint.IsConfigured() {
		return cpgerrors.Usage("EMBEDDING_API_KEY environment variable is required", nil)
	}
	if model != "" {
		endpoint = config.NewEndpointWithOptions(
			config.WithAPIKey(endpoint.APIKey()),
			config.WithBaseURL(endpoint.BaseURL()),
			config.WithModel(model),
			config.WithNumParallelTasks(endpoint.NumParallelTasks()),
			config.WithTimeout(endpoint.Timeout()),
			config.WithMaxRetries(endpoint.MaxRetries()),
		)
	}
	provider := embedding.NewOpenAIProvider(endpoint.APIKey(), endpoint.Model(), endpoint.BaseURL())

	repo, err := store.EnsureRepository(ctx, repoURL, branch, repoDisplayName(repoURL))
	if err != nil {
		return err
	}
	snap, err := store.ActiveSnapshotOf(ctx, repo.ID())
	if err != nil {
		return err
	}

	pipeline := embedding.NewPipeline(store, provider)
	if batchSize > 0 {
		pipeline = pipeline.WithBatchSize(batchSize)
	} else if cfg.BatchSize() > 0 {
		pipeline = pipeline.WithBatchSize(cfg.BatchSize())
	}

	events := make(chan embedding.Event, 16)
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx, snap.ID(), events) }()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				continue
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "embed: %s\n", e.Kind)
		case err := <-done:
			return err
		}
	}
}
