package indexer

import (
	"sync"

	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/relations"
)

// unresolvedCall is a call site waiting on the run-wide symbol table before
// it can become a relations.Candidate.
type unresolvedCall struct {
	source relations.Position
	name   string
}

// indexRun holds one Index call's mutable state, shared across the worker
// pool under mu. Chunk registration, symbol definitions and stats all
// arrive concurrently from processBatch's goroutines.
type indexRun struct {
	o           *Orchestrator
	repo        model.Repository
	snapshotID  int64
	worktreeDir string

	mu            sync.Mutex
	chunkIndex    *relations.ChunkIndex
	symbols       map[string][]relations.Position
	calls         []unresolvedCall
	filePaths     []string
	snapshotStats model.SnapshotStats
}

func newIndexRun(o *Orchestrator, repo model.Repository, snapshotID int64, worktreeDir string) *indexRun {
	return &indexRun{
		o: o, repo: repo, snapshotID: snapshotID, worktreeDir: worktreeDir,
		chunkIndex: relations.NewChunkIndex(),
		symbols:    make(map[string][]relations.Position),
	}
}

func (r *indexRun) stats() model.SnapshotStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotStats
}

func (r *indexRun) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.filePaths))
	copy(out, r.filePaths)
	return out
}

func (r *indexRun) addPath(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filePaths = append(r.filePaths, p)
}

func (r *indexRun) incFilesTotal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.FilesTotal++
}

func (r *indexRun) incFileIndexed(chunkCount, edgeCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.FilesIndexed++
	r.snapshotStats.ChunksTotal += chunkCount
	r.snapshotStats.EdgesTotal += edgeCount
}

func (r *indexRun) incFileSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.FilesSkipped++
}

func (r *indexRun) incFileFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.FilesFailed++
}

func (r *indexRun) incCacheHit(chunkCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.FilesIndexed++
	r.snapshotStats.CacheHits++
	r.snapshotStats.ChunksTotal += chunkCount
}

func (r *indexRun) addEdgeStats(resolvedEdges, droppedEdges int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotStats.EdgesTotal += resolvedEdges
	r.snapshotStats.DroppedEdges += droppedEdges
}

// registerChunks records chunkID byte ranges for graph resolution and, for
// chunks that look like definitions (a function, method or class with at
// least one extracted identifier), records their names as call targets.
func (r *indexRun) registerChunks(fileID int64, chunks []model.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunkIndex.Add(fileID, c.ID(), c.ByteRange())
		if !isDefinition(c.Metadata().SymbolType) {
			continue
		}
		pos := relations.Position{FileID: fileID, Byte: c.ByteRange().Start}
		for _, name := range c.Metadata().Identifiers {
			r.symbols[name] = append(r.symbols[name], pos)
		}
	}
}

func isDefinition(symbolType string) bool {
	return symbolType == "function" || symbolType == "method" || symbolType == "class"
}

func (r *indexRun) addUnresolvedCall(c unresolvedCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *indexRun) unresolvedCalls() []unresolvedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]unresolvedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *indexRun) symbolsNamed(name string) []relations.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbols[name]
}
