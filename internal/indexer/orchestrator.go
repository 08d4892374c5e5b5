// Package indexer drives a snapshot from creation to activation: it fans
// the collector's file batches out to a bounded worker pool that parses
// cache misses and reattaches cache hits without reparsing, resolves
// cross-file call candidates against the snapshot's own chunks, and
// activates (or fails) the snapshot once every file has been accounted for.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cpgraph/engine/internal/chunker"
	"github.com/cpgraph/engine/internal/collector"
	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/relations"
	"github.com/cpgraph/engine/internal/storage"
)

// DefaultWorkerCount bounds how many files are parsed concurrently.
const DefaultWorkerCount = 5

// DefaultFileBatchSize is the collector's batch size.
const DefaultFileBatchSize = 50

// Orchestrator runs the Collector, Chunker and cross-file relation
// resolution for one repository, bulk-writing results under a new
// snapshot and activating it on success.
type Orchestrator struct {
	store       *storage.Store
	worktrees   *collector.WorktreeManager
	collector   *collector.Collector
	chunker     *chunker.Chunker
	workerCount int
	batchSize   int
	logger      *slog.Logger
}

// New creates an Orchestrator with default concurrency.
func New(store *storage.Store, worktrees *collector.WorktreeManager, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		worktrees:   worktrees,
		collector:   collector.New(logger),
		chunker:     chunker.New(),
		workerCount: DefaultWorkerCount,
		batchSize:   DefaultFileBatchSize,
		logger:      logger,
	}
}

// WithWorkerCount overrides the parsing worker pool size.
func (o *Orchestrator) WithWorkerCount(n int) *Orchestrator {
	if n > 0 {
		o.workerCount = n
	}
	return o
}

// WithBatchSize overrides the collector's file batch size.
func (o *Orchestrator) WithBatchSize(n int) *Orchestrator {
	if n > 0 {
		o.batchSize = n
	}
	return o
}

// WithChunker overrides the chunker, e.g. to apply a non-default byte budget.
func (o *Orchestrator) WithChunker(c *chunker.Chunker) *Orchestrator {
	o.chunker = c
	return o
}

// Index ensures repo is tracked, resolves branch to a commit, and builds a
// new snapshot at that commit: Collector streams files, a bounded worker
// pool parses cache misses and reattaches cache hits, cross-file relations
// are resolved once every file has been accounted for, and the snapshot is
// activated. Any failure fails the snapshot and returns the error.
func (o *Orchestrator) Index(ctx context.Context, remoteURL, branch, name string) (model.Snapshot, error) {
	repo, err := o.store.EnsureRepository(ctx, remoteURL, branch, name)
	if err != nil {
		return model.Snapshot{}, err
	}

	commitHash, err := o.worktrees.ResolveCommit(ctx, remoteURL, branch)
	if err != nil {
		return model.Snapshot{}, err
	}

	provisionalRef := "pending-" + uuid.NewString()
	worktreeDir, err := o.worktrees.Checkout(ctx, remoteURL, commitHash, provisionalRef)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer func() {
		if rmErr := o.worktrees.Remove(remoteURL, provisionalRef); rmErr != nil {
			o.logger.Warn("failed to remove ephemeral worktree", slog.String("error", rmErr.Error()))
		}
	}()

	snap, err := o.store.CreateSnapshot(ctx, repo.ID(), commitHash)
	if err != nil {
		return model.Snapshot{}, err
	}

	run := newIndexRun(o, repo, snap.ID(), worktreeDir)
	if err := run.execute(ctx); err != nil {
		if failErr := o.store.FailSnapshot(ctx, snap.ID(), run.stats()); failErr != nil {
			o.logger.Error("failed to record snapshot failure", slog.String("error", failErr.Error()))
		}
		return model.Snapshot{}, err
	}

	manifest := buildManifest(run.paths())
	if err := o.store.ActivateSnapshot(ctx, repo.ID(), snap.ID(), run.stats(), manifest); err != nil {
		return model.Snapshot{}, err
	}
	return o.store.ActiveSnapshotOf(ctx, repo.ID())
}

// execute runs the Collector → worker pool → relation resolution pipeline
// for one indexRun.
func (r *indexRun) execute(ctx context.Context) error {
	batches, errc := r.o.collector.StreamFiles(ctx, r.worktreeDir, r.o.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.workerCount)

	for batch := range batches {
		batch := batch
		g.Go(func() error { return r.processBatch(gctx, batch) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := <-errc; err != nil {
		return err
	}

	return r.resolveCrossFileRelations(ctx)
}

// processBatch handles one collector batch: a cache hit is reattached by
// cloning its previously-parsed chunks into this snapshot; a cache miss is
// read from disk and parsed fresh.
func (r *indexRun) processBatch(ctx context.Context, batch []collector.FileDescriptor) error {
	for _, desc := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.addPath(desc.RelPath)
		r.incFilesTotal()

		if desc.HasGitHash {
			cached, ok, err := r.o.store.FindCachedFile(ctx, r.repo.ID(), desc.GitHash)
			if err != nil {
				return err
			}
			if ok {
				if err := r.reattachCachedFile(ctx, cached); err != nil {
					return err
				}
				continue
			}
		}

		if err := r.parseFreshFile(ctx, desc); err != nil {
			return err
		}
	}
	return nil
}

// reattachCachedFile clones a previously-parsed file's chunks, intra-file
// edges and FTS entries into this snapshot without re-running the chunker,
// then registers the cloned chunks for cross-file relation resolution.
func (r *indexRun) reattachCachedFile(ctx context.Context, cached storage.FileEntity) error {
	clonedFile, err := r.o.store.CloneFileIntoSnapshot(ctx, cached.ID, r.snapshotID)
	if err != nil {
		return err
	}
	chunks, err := r.o.store.ChunksOfFile(ctx, clonedFile.ID())
	if err != nil {
		return err
	}
	r.registerChunks(clonedFile.ID(), chunks)
	r.incCacheHit(len(chunks))
	return nil
}

// parseFreshFile reads a cache-miss file from disk, chunks it, and
// bulk-writes its file row, contents, chunks, intra-file child_of edges
// and FTS entries atomically.
func (r *indexRun) parseFreshFile(ctx context.Context, desc collector.FileDescriptor) error {
	source, err := os.ReadFile(desc.FullPath)
	if err != nil {
		return cpgerrors.Transient("read file "+desc.RelPath, err)
	}

	language := r.o.chunker.LanguageOf(desc.RelPath)
	files, err := r.o.store.AddFiles(ctx, []model.File{
		model.NewFile(r.snapshotID, desc.RelPath, language, desc.Size, desc.Category, desc.GitHash, desc.HasGitHash),
	})
	if err != nil {
		return err
	}
	file := files[0]

	result, chunkErr := r.o.chunker.Chunk(ctx, file.ID(), desc.RelPath, source)
	if chunkErr != nil {
		r.incFileFailed()
		if err := r.addFileLevelFTS(ctx, file, desc.RelPath, language); err != nil {
			return err
		}
		return r.o.store.UpdateFileParsing(ctx, file.ID(), model.ParsingFailed, wholeFileHash(source))
	}

	if result.Status != model.ParsingOK {
		r.incFileSkipped()
		if err := r.o.store.AddContents(ctx, []model.Content{model.NewContent(wholeFileHash(source), string(source))}); err != nil {
			return err
		}
		if err := r.addFileLevelFTS(ctx, file, desc.RelPath, language); err != nil {
			return err
		}
		return r.o.store.UpdateFileParsing(ctx, file.ID(), result.Status, wholeFileHash(source))
	}

	if err := r.o.store.UpdateFileParsing(ctx, file.ID(), result.Status, ""); err != nil {
		return err
	}

	contents := make([]model.Content, 0, len(result.Contents))
	for _, c := range result.Contents {
		contents = append(contents, c)
	}
	if err := r.o.store.AddContents(ctx, contents); err != nil {
		return err
	}

	persisted, err := r.o.store.AddChunks(ctx, result.Chunks)
	if err != nil {
		return err
	}

	var childOf []model.Edge
	for i, parentIdx := range result.ParentOf {
		if parentIdx < 0 {
			continue
		}
		childOf = append(childOf, model.NewEdge(
			model.ChunkTarget(persisted[parentIdx].ID()),
			model.ChunkTarget(persisted[i].ID()),
			model.RelationChildOf, nil,
		))
	}
	if len(childOf) > 0 {
		if err := r.o.store.AddEdges(ctx, childOf); err != nil {
			return err
		}
	}

	ftsEntries := make([]model.FTSEntry, 0, len(persisted))
	for _, c := range persisted {
		text := result.Contents[c.ContentHash()].Text()
		doc := chunker.BuildFTSDocument(text, c.Metadata().Identifiers)
		ftsEntries = append(ftsEntries, model.NewFTSEntry(c.ID(), r.snapshotID, file.ID(), doc))
	}
	if err := r.o.store.AddFTS(ctx, ftsEntries); err != nil {
		return err
	}

	r.incFileIndexed(len(persisted), len(childOf))
	r.registerChunks(file.ID(), persisted)
	for _, call := range result.Calls {
		r.addUnresolvedCall(unresolvedCall{
			source: relations.Position{FileID: file.ID(), Byte: call.Byte},
			name:   call.Name,
		})
	}
	return nil
}

// resolveCrossFileRelations resolves every call site recorded across the
// run's files into edges, once the snapshot's complete symbol table and
// chunk index are known. Resolution is by unqualified name only — no
// scope or type awareness — so an ambiguous or unknown name is dropped
// rather than guessed at.
func (r *indexRun) resolveCrossFileRelations(ctx context.Context) error {
	r.chunkIndex.Build()

	var candidates []relations.Candidate
	dropped := 0
	for _, call := range r.unresolvedCalls() {
		defs := r.symbolsNamed(call.name)
		if len(defs) != 1 {
			dropped++
			continue
		}
		candidates = append(candidates, relations.Candidate{
			Source: call.source, Target: defs[0], TargetKnown: true, Relation: model.RelationCalls,
		})
	}

	edges, resolveStats := relations.NewResolver().Resolve(candidates, r.chunkIndex)
	if len(edges) > 0 {
		if err := r.o.store.AddEdges(ctx, edges); err != nil {
			return err
		}
	}
	r.addEdgeStats(len(edges), resolveStats.Dropped+dropped)
	return nil
}

// addFileLevelFTS records a file-level full-text entry for a file that
// has no chunks (parsing skipped or failed), so a keyword search for its
// path or language still finds it even though there's nothing to rank by
// chunk content.
func (r *indexRun) addFileLevelFTS(ctx context.Context, file model.File, relPath, language string) error {
	doc := chunker.BuildFTSDocument(relPath, []string{language})
	return r.o.store.AddFTS(ctx, []model.FTSEntry{model.NewFileFTSEntry(r.snapshotID, file.ID(), doc)})
}

func wholeFileHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}
