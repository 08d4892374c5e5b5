package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cpgraph/engine/internal/storage"
)

// DefaultBatchSize is how many staging rows are fetched per delta round.
const DefaultBatchSize = 64

// DefaultMaxConcurrency bounds how many provider calls run at once.
const DefaultMaxConcurrency = 4

// Pipeline drives the staged embedding run described in the embedding
// pipeline's lifecycle: prepare_staging, stage, copy_cached_vectors,
// fetch_staging_delta/embed/write_vectors repeated to exhaustion, then
// promote_staging.
type Pipeline struct {
	store          *storage.Store
	provider       Provider
	batchSize      int
	maxConcurrency int
}

// NewPipeline constructs a Pipeline with the default batch size and
// concurrency. Use WithBatchSize/WithMaxConcurrency to override either.
func NewPipeline(store *storage.Store, provider Provider) *Pipeline {
	return &Pipeline{store: store, provider: provider, batchSize: DefaultBatchSize, maxConcurrency: DefaultMaxConcurrency}
}

// WithBatchSize overrides the delta fetch size.
func (p *Pipeline) WithBatchSize(n int) *Pipeline {
	p.batchSize = n
	return p
}

// WithMaxConcurrency overrides how many provider calls run at once.
func (p *Pipeline) WithMaxConcurrency(n int) *Pipeline {
	p.maxConcurrency = n
	return p
}

// Run embeds every chunk in snapshotID that lacks a vector under the
// provider's model, emitting status events to events as it progresses.
// events may be nil if the caller doesn't need progress updates.
func (p *Pipeline) Run(ctx context.Context, snapshotID int64, events chan<- Event) error {
	emit := func(e Event) {
		if events != nil {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
	}

	model := p.provider.Model()
	emit(Event{Kind: EventInit})
	if err := p.store.PrepareStaging(ctx, snapshotID, model); err != nil {
		return err
	}

	contexts, err := p.store.ListChunkContexts(ctx, snapshotID)
	if err != nil {
		return err
	}
	embedded, err := p.store.EmbeddedChunkIDs(ctx, snapshotID, model)
	if err != nil {
		return err
	}

	rows := make([]storage.StagingRow, 0, len(contexts))
	for _, c := range contexts {
		if embedded[c.ChunkID] {
			continue
		}
		defines, err := p.store.IncomingDefines(ctx, c.ChunkID)
		if err != nil {
			return err
		}
		prompt := BuildPrompt(PromptInput{
			RelPath: c.Path, Language: c.Language, Category: c.Category,
			RoleTags: roleTags(c.Tags), OtherTags: c.Tags, DefinesSymbol: defines, ChunkText: c.Text,
		})
		rows = append(rows, storage.StagingRow{
			ChunkID: c.ChunkID, SnapshotID: snapshotID, FileID: c.FileID,
			PromptHash: PromptHash(prompt), Model: model, Prompt: prompt,
		})
	}

	if err := p.store.Stage(ctx, rows); err != nil {
		return err
	}
	emit(Event{Kind: EventStagingProgress, Processed: len(rows), Total: len(rows)})

	emit(Event{Kind: EventDeduplicating})
	reused, err := p.store.CopyCachedVectors(ctx, snapshotID, model)
	if err != nil {
		return err
	}

	total := len(rows)
	processed := reused
	newlyEmbedded := 0
	erroredRows := 0
	emit(Event{Kind: EventEmbeddingProgress, Processed: processed, Total: total})

	for {
		delta, err := p.store.FetchStagingDelta(ctx, snapshotID, model, p.batchSize)
		if err != nil {
			return err
		}
		if len(delta) == 0 {
			break
		}

		texts := make([]string, len(delta))
		for i, r := range delta {
			texts[i] = r.Prompt
		}

		vectors, embedErr := p.embedWithConcurrency(ctx, texts)
		if embedErr != nil {
			if ctx.Err() != nil {
				return embedErr
			}
			erroredRows += len(delta)
			emit(Event{Kind: EventErrored, ErroredRows: len(delta), Err: embedErr})
			failedIDs := make([]int64, len(delta))
			for i, r := range delta {
				failedIDs[i] = r.ChunkID
			}
			if err := p.store.DiscardStagingRows(ctx, snapshotID, model, failedIDs); err != nil {
				return err
			}
			processed += len(delta)
			emit(Event{Kind: EventEmbeddingProgress, Processed: processed, Total: total})
			continue
		}

		staged := make([]storage.StagedVector, len(delta))
		for i, r := range delta {
			staged[i] = storage.StagedVector{ChunkID: r.ChunkID, Vector: vectors[i]}
		}
		if err := p.store.WriteVectors(ctx, snapshotID, model, staged); err != nil {
			return err
		}

		newlyEmbedded += len(delta)
		processed += len(delta)
		emit(Event{Kind: EventEmbeddingProgress, Processed: processed, Total: total})
	}

	if _, err := p.store.PromoteStaging(ctx, snapshotID, model); err != nil {
		return err
	}

	emit(Event{Kind: EventCompleted, NewlyEmbedded: newlyEmbedded, Reused: reused, ErroredRows: erroredRows})
	return nil
}

// embedWithConcurrency splits texts into provider-sized batches and embeds
// them concurrently, bounded by maxConcurrency outstanding calls.
func (p *Pipeline) embedWithConcurrency(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := (len(texts) + p.maxConcurrency - 1) / p.maxConcurrency
	if batchSize < 1 {
		batchSize = len(texts)
	}

	type chunkResult struct {
		start   int
		vectors [][]float32
	}

	var batches [][]string
	var offsets []int
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
		offsets = append(offsets, i)
	}

	results := make([]chunkResult, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			vecs, err := p.provider.Embed(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = chunkResult{start: offsets[i], vectors: vecs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, r := range results {
		copy(out[r.start:], r.vectors)
	}
	return out, nil
}

// roleTags picks the subset of a chunk's tags that describe its semantic
// role (as opposed to structural facts), for the prompt's "Role" line.
// Every other tag goes in "Tags" as well, since the distinction is soft.
func roleTags(tags []string) []string {
	var roles []string
	for _, t := range tags {
		if t == "entrypoint" || t == "test" || t == "handler" || t == "model" || t == "config" {
			roles = append(roles, t)
		}
	}
	return roles
}
