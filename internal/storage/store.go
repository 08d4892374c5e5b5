// Package storage implements the engine's persistence contract: repository
// and snapshot lifecycle, bulk ingestion of files/contents/chunks/edges/
// full-text entries, hybrid search reads, graph traversal reads and the
// staged embedding pipeline's write-ahead area.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cpgraph/engine/internal/chunker"
	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/query"
)

// Store is the engine's single persistence gateway.
type Store struct {
	db    database.Database
	repos database.Repository[model.Repository, RepositoryEntity]
	snaps database.Repository[model.Snapshot, SnapshotEntity]
}

// New creates a Store over an open database connection.
func New(db database.Database) *Store {
	return &Store{
		db:    db,
		repos: database.NewRepository[model.Repository, RepositoryEntity](db, repositoryMapper{}, "repository"),
		snaps: database.NewRepository[model.Snapshot, SnapshotEntity](db, snapshotMapper{}, "snapshot"),
	}
}

// Migrate creates or updates the schema, applying Postgres-specific
// extensions (pgvector, a non-stemming text search configuration) when
// connected to Postgres.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.Session(ctx).AutoMigrate(AllModels()...); err != nil {
		return cpgerrors.State("auto-migrate schema", err)
	}
	if s.db.IsPostgres() {
		if err := applyPostgresExtensions(ctx, s.db); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRepository returns the Repository for remoteURL, creating it if
// this is the first time it has been seen.
func (s *Store) EnsureRepository(ctx context.Context, remoteURL, branch, name string) (model.Repository, error) {
	existing, err := s.repos.FindOne(ctx, query.WithCondition("remote_url", remoteURL))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return model.Repository{}, cpgerrors.Transient("look up repository", err)
	}

	entity := repositoryMapper{}.ToModel(model.NewRepository(remoteURL, branch, name))
	if err := s.db.Session(ctx).Create(&entity).Error; err != nil {
		return model.Repository{}, cpgerrors.Transient("create repository", err)
	}
	return repositoryMapper{}.ToDomain(entity), nil
}

// CreateSnapshot starts a new indexing snapshot for repoID, acting as the
// advisory lock that keeps at most one snapshot "indexing" per repository
// at a time. A second concurrent call for the same repository fails with
// a conflict error rather than blocking.
func (s *Store) CreateSnapshot(ctx context.Context, repoID int64, commitHash string) (model.Snapshot, error) {
	var entity SnapshotEntity
	err := s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var inFlight int64
		if err := tx.Model(&SnapshotEntity{}).
			Where("repository_id = ? AND status = ?", repoID, string(model.SnapshotIndexing)).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return cpgerrors.Conflict(fmt.Sprintf("repository %d already has a snapshot indexing", repoID), nil)
		}

		entity = snapshotMapper{}.ToModel(model.NewSnapshot(repoID, commitHash))
		return tx.Create(&entity).Error
	})
	if err != nil {
		var cpgErr *cpgerrors.Error
		if errors.As(err, &cpgErr) {
			return model.Snapshot{}, err
		}
		return model.Snapshot{}, cpgerrors.Transient("create snapshot", err)
	}
	return snapshotMapper{}.ToDomain(entity), nil
}

// ActivateSnapshot marks a snapshot completed and makes it the
// repository's current snapshot — but only if the repository's currently
// active snapshot (if any) is older than snapshotID by creation time. A
// concurrent activation that loses this compare-and-set yields
// cpgerrors.Conflict rather than clobbering a newer snapshot's pointer.
func (s *Store) ActivateSnapshot(ctx context.Context, repoID, snapshotID int64, stats model.SnapshotStats, manifest model.Manifest) error {
	now := time.Now()
	manifestJSON := encodeManifest(manifest)
	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SnapshotEntity{}).Where("id = ?", snapshotID).Updates(map[string]any{
			"status": string(model.SnapshotCompleted), "files_total": stats.FilesTotal,
			"files_indexed": stats.FilesIndexed, "files_skipped": stats.FilesSkipped,
			"files_failed": stats.FilesFailed, "chunks_total": stats.ChunksTotal,
			"edges_total": stats.EdgesTotal, "dropped_edges": stats.DroppedEdges,
			"cache_hits": stats.CacheHits, "manifest_json": manifestJSON, "updated_at": now,
		}).Error; err != nil {
			return err
		}

		var newSnap SnapshotEntity
		if err := tx.Select("created_at").First(&newSnap, snapshotID).Error; err != nil {
			return err
		}

		var repo RepositoryEntity
		if err := tx.Select("id, current_snapshot_id").First(&repo, repoID).Error; err != nil {
			return err
		}

		if repo.CurrentSnapshotID.Valid {
			if repo.CurrentSnapshotID.Int64 == snapshotID {
				return nil
			}
			var current SnapshotEntity
			if err := tx.Select("created_at").First(&current, repo.CurrentSnapshotID.Int64).Error; err != nil {
				return err
			}
			if !current.CreatedAt.Before(newSnap.CreatedAt) {
				return cpgerrors.Conflict(fmt.Sprintf(
					"snapshot %d is not newer than repository %d's active snapshot %d",
					snapshotID, repoID, repo.CurrentSnapshotID.Int64), nil)
			}
		}

		guard := "id = ? AND current_snapshot_id IS NULL"
		guardArgs := []any{repoID}
		if repo.CurrentSnapshotID.Valid {
			guard = "id = ? AND current_snapshot_id = ?"
			guardArgs = []any{repoID, repo.CurrentSnapshotID.Int64}
		}
		res := tx.Model(&RepositoryEntity{}).Where(guard, guardArgs...).
			Updates(map[string]any{"current_snapshot_id": snapshotID, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return cpgerrors.Conflict(fmt.Sprintf("repository %d's active snapshot changed concurrently", repoID), nil)
		}
		return nil
	})
}

// FailSnapshot marks a snapshot failed, recording whatever partial stats
// were gathered before the failure.
func (s *Store) FailSnapshot(ctx context.Context, snapshotID int64, stats model.SnapshotStats) error {
	err := s.db.Session(ctx).Model(&SnapshotEntity{}).Where("id = ?", snapshotID).Updates(map[string]any{
		"status": string(model.SnapshotFailed), "files_total": stats.FilesTotal,
		"files_indexed": stats.FilesIndexed, "files_skipped": stats.FilesSkipped,
		"files_failed": stats.FilesFailed, "chunks_total": stats.ChunksTotal,
		"edges_total": stats.EdgesTotal, "dropped_edges": stats.DroppedEdges,
		"cache_hits": stats.CacheHits, "updated_at": time.Now(),
	}).Error
	if err != nil {
		return cpgerrors.Transient("fail snapshot", err)
	}
	return nil
}

// ActiveSnapshotOf returns the repository's current completed snapshot.
func (s *Store) ActiveSnapshotOf(ctx context.Context, repoID int64) (model.Snapshot, error) {
	repo, err := s.repos.FindOne(ctx, query.WithID(repoID))
	if err != nil {
		return model.Snapshot{}, cpgerrors.Transient("look up repository", err)
	}
	snapshotID, hasCurrent := repo.CurrentSnapshot()
	if !hasCurrent {
		return model.Snapshot{}, cpgerrors.State(fmt.Sprintf("repository %d has no active snapshot", repoID), nil)
	}
	return s.snaps.FindOne(ctx, query.WithID(snapshotID))
}

// SnapshotByID loads a snapshot by ID regardless of its status, for
// Navigator operations that already hold a specific snapshot ID rather
// than going through a repository's active snapshot.
func (s *Store) SnapshotByID(ctx context.Context, snapshotID int64) (model.Snapshot, error) {
	return s.snaps.FindOne(ctx, query.WithID(snapshotID))
}

// AddFiles bulk-inserts files and returns them with assigned IDs.
func (s *Store) AddFiles(ctx context.Context, files []model.File) ([]model.File, error) {
	if len(files) == 0 {
		return nil, nil
	}
	entities := make([]FileEntity, len(files))
	for i, f := range files {
		entities[i] = toFileEntity(f)
	}
	if err := s.db.Session(ctx).Create(&entities).Error; err != nil {
		return nil, cpgerrors.Transient("insert files", err)
	}
	out := make([]model.File, len(entities))
	for i, e := range entities {
		out[i] = fromFileEntity(e)
	}
	return out, nil
}

// UpdateFileParsing records a file's parsing outcome after chunking, along
// with the whole-file content hash (used to recover the full text of
// skipped or failed files).
func (s *Store) UpdateFileParsing(ctx context.Context, fileID int64, status model.ParsingStatus, contentHash string) error {
	err := s.db.Session(ctx).Model(&FileEntity{}).Where("id = ?", fileID).Updates(map[string]any{
		"parsing_status": string(status),
		"content_hash":   sql.NullString{String: contentHash, Valid: contentHash != ""},
	}).Error
	if err != nil {
		return cpgerrors.Transient("update file parsing status", err)
	}
	return nil
}

// FileByPath looks up a snapshot's file row by its repo-relative path, for
// the Navigator's read_file and graph-entry operations.
func (s *Store) FileByPath(ctx context.Context, snapshotID int64, path string) (model.File, bool, error) {
	var entity FileEntity
	err := s.db.Session(ctx).Where("snapshot_id = ? AND path = ?", snapshotID, path).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.File{}, false, nil
		}
		return model.File{}, false, cpgerrors.Transient("load file by path", err)
	}
	return fromFileEntity(entity), true, nil
}

// FileByID looks up a file row by its primary key, for enriching a
// file-level (chunkless) full-text hit with its path and stored content.
func (s *Store) FileByID(ctx context.Context, fileID int64) (model.File, bool, error) {
	var entity FileEntity
	err := s.db.Session(ctx).First(&entity, fileID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.File{}, false, nil
		}
		return model.File{}, false, cpgerrors.Transient("load file by id", err)
	}
	return fromFileEntity(entity), true, nil
}

// ContentByHash looks up one content-addressed blob, used to recover the
// full text of a file whose parsing was skipped or failed.
func (s *Store) ContentByHash(ctx context.Context, hash string) (model.Content, bool, error) {
	var entity ContentEntity
	err := s.db.Session(ctx).Where("hash = ?", hash).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Content{}, false, nil
		}
		return model.Content{}, false, cpgerrors.Transient("load content by hash", err)
	}
	return model.NewContent(entity.Hash, entity.Text), true, nil
}

// AddContents bulk-inserts content blobs, ignoring rows whose hash already
// exists — content is deduplicated globally, not per snapshot.
func (s *Store) AddContents(ctx context.Context, contents []model.Content) error {
	if len(contents) == 0 {
		return nil
	}
	entities := make([]ContentEntity, len(contents))
	for i, c := range contents {
		entities[i] = ContentEntity{Hash: c.Hash(), Text: c.Text(), Size: c.Size()}
	}
	err := s.db.Session(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entities).Error
	if err != nil {
		return cpgerrors.Transient("insert contents", err)
	}
	return nil
}

// AddChunks bulk-inserts chunks and returns them with assigned IDs, in the
// same order they were passed in.
func (s *Store) AddChunks(ctx context.Context, chunks []model.Chunk) ([]model.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	entities := make([]ChunkEntity, len(chunks))
	for i, c := range chunks {
		entities[i] = toChunkEntity(c)
	}
	if err := s.db.Session(ctx).Create(&entities).Error; err != nil {
		return nil, cpgerrors.Transient("insert chunks", err)
	}
	out := make([]model.Chunk, len(entities))
	for i, e := range entities {
		out[i] = fromChunkEntity(e)
	}
	return out, nil
}

// ChunksOfFile returns every chunk belonging to fileID, ordered by
// insertion (equivalently, source order within the file).
func (s *Store) ChunksOfFile(ctx context.Context, fileID int64) ([]model.Chunk, error) {
	var entities []ChunkEntity
	if err := s.db.Session(ctx).Where("file_id = ?", fileID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, cpgerrors.Transient("list chunks of file", err)
	}
	out := make([]model.Chunk, len(entities))
	for i, e := range entities {
		out[i] = fromChunkEntity(e)
	}
	return out, nil
}

// ChunkByID loads a single chunk by ID.
func (s *Store) ChunkByID(ctx context.Context, chunkID int64) (model.Chunk, bool, error) {
	var entity ChunkEntity
	err := s.db.Session(ctx).Where("id = ?", chunkID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Chunk{}, false, nil
		}
		return model.Chunk{}, false, cpgerrors.Transient("load chunk by id", err)
	}
	return fromChunkEntity(entity), true, nil
}

// AddEdges bulk-inserts edges.
func (s *Store) AddEdges(ctx context.Context, edges []model.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	entities := make([]EdgeEntity, len(edges))
	for i, e := range edges {
		entities[i] = toEdgeEntity(e)
	}
	if err := s.db.Session(ctx).Create(&entities).Error; err != nil {
		return cpgerrors.Transient("insert edges", err)
	}
	return nil
}

// AddFTS bulk-upserts full-text entries: one per chunk, or, for a
// chunkless file, one file-level entry keyed by file rather than chunk.
func (s *Store) AddFTS(ctx context.Context, entries []model.FTSEntry) error {
	if len(entries) == 0 {
		return nil
	}
	entities := make([]FTSEntryEntity, len(entries))
	for i, e := range entries {
		entities[i] = FTSEntryEntity{
			ChunkID:    sql.NullInt64{Int64: e.ChunkID(), Valid: e.HasChunk()},
			SnapshotID: e.SnapshotID(), FileID: e.FileID(), Document: e.Document(),
		}
	}
	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document"}),
	}).Create(&entities).Error
	if err != nil {
		return cpgerrors.Transient("insert fts entries", err)
	}
	return nil
}

// VectorHit is one result of SearchVectors.
type VectorHit struct {
	ChunkID int64
	Score   float32
}

// SearchVectors returns the topK chunks in snapshotID whose embedding is
// nearest to query by cosine similarity, honoring filters.
func (s *Store) SearchVectors(ctx context.Context, snapshotID int64, embeddingModel string, queryVec []float32, topK int, filters model.Filters) ([]VectorHit, error) {
	db := s.db.Session(ctx).Table("embeddings").
		Joins("JOIN files ON files.id = embeddings.file_id").
		Where("embeddings.snapshot_id = ? AND embeddings.model = ?", snapshotID, embeddingModel)
	db = applyFileFilters(db, filters, "embeddings.chunk_id")

	var rows []EmbeddingEntity
	if err := db.Select("embeddings.*").Find(&rows).Error; err != nil {
		return nil, cpgerrors.Transient("search vectors", err)
	}

	hits := make([]VectorHit, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.VectorJSON)
		if err != nil {
			continue
		}
		hits = append(hits, VectorHit{ChunkID: r.ChunkID, Score: cosineSimilarity(queryVec, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// FTSHit is one result of SearchFTS. HasChunk is false for a file-level
// hit — a chunkless file matched on its path/language tokens — in which
// case FileID identifies the file instead.
type FTSHit struct {
	ChunkID  int64
	HasChunk bool
	FileID   int64
	Score    float32
}

// SearchFTS returns the topK chunks (or chunkless files, matched on their
// path/language tokens) in snapshotID whose full-text document overlaps
// queryText the most, honoring filters. Tokenization matches the
// chunker's code-friendly, non-stemming tokenizer so a search for
// "doSomething" matches a document containing "do_something".
func (s *Store) SearchFTS(ctx context.Context, snapshotID int64, queryText string, topK int, filters model.Filters) ([]FTSHit, error) {
	queryTokens := chunker.Tokenize(queryText)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	tokenSet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		tokenSet[t] = true
	}

	db := s.db.Session(ctx).Table("fts_entries").
		Joins("JOIN files ON files.id = fts_entries.file_id").
		Where("fts_entries.snapshot_id = ?", snapshotID)
	db = applyFileFilters(db, filters, "fts_entries.chunk_id")

	var rows []FTSEntryEntity
	if err := db.Select("fts_entries.*").Find(&rows).Error; err != nil {
		return nil, cpgerrors.Transient("search fts", err)
	}

	hits := make([]FTSHit, 0, len(rows))
	for _, r := range rows {
		score := overlapScore(r.Document, tokenSet)
		if score > 0 {
			hits = append(hits, FTSHit{ChunkID: r.ChunkID.Int64, HasChunk: r.ChunkID.Valid, FileID: r.FileID, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].HasChunk != hits[j].HasChunk {
			return hits[i].HasChunk
		}
		if hits[i].HasChunk {
			return hits[i].ChunkID < hits[j].ChunkID
		}
		return hits[i].FileID < hits[j].FileID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func overlapScore(document string, queryTokens map[string]bool) float32 {
	var score float32
	for _, tok := range strings.Fields(document) {
		if queryTokens[tok] {
			score++
		}
	}
	return score
}

// applyFileFilters narrows db (already scoped to an embeddings/fts_entries
// query joined against files) by f's Language/Category/PathPrefix keys,
// plus Role/ExcludeRole, which live on the chunk rather than the file:
// those two join chunks on chunkIDColumn (the caller's chunk-id column,
// e.g. "embeddings.chunk_id") and match against its comma-joined tags. A
// file-level (chunkless) row never matches a role filter, since it has no
// chunk to join against.
func applyFileFilters(db *gorm.DB, f model.Filters, chunkIDColumn string) *gorm.DB {
	if len(f.Language) > 0 {
		db = db.Where("files.language IN ?", f.Language)
	}
	if len(f.ExcludeLanguage) > 0 {
		db = db.Where("files.language NOT IN ?", f.ExcludeLanguage)
	}
	if len(f.Category) > 0 {
		db = db.Where("files.category IN ?", f.Category)
	}
	if len(f.ExcludeCategory) > 0 {
		db = db.Where("files.category NOT IN ?", f.ExcludeCategory)
	}
	if len(f.PathPrefix) > 0 {
		sub := db
		clauses := make([]string, 0, len(f.PathPrefix))
		args := make([]any, 0, len(f.PathPrefix))
		for _, p := range f.PathPrefix {
			clauses = append(clauses, "files.path LIKE ?")
			args = append(args, p+"%")
		}
		sub = sub.Where(strings.Join(clauses, " OR "), args...)
		db = sub
	}
	if len(f.Role) > 0 || len(f.ExcludeRole) > 0 {
		db = db.Joins("JOIN chunks ON chunks.id = " + chunkIDColumn)
	}
	if len(f.Role) > 0 {
		clause, args := roleTagClause(f.Role)
		db = db.Where(clause, args...)
	}
	if len(f.ExcludeRole) > 0 {
		clause, args := roleTagClause(f.ExcludeRole)
		db = db.Where("NOT ("+clause+")", args...)
	}
	return db
}

// roleTagClause builds an OR'd set of tag-membership checks against
// chunks.tags, a comma-joined list (see conv.go): wrapping both the
// column and the candidate in commas turns substring matching into exact
// tag matching, so a role of "test" doesn't also match "test_case".
func roleTagClause(roles []string) (string, []any) {
	clauses := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, r := range roles {
		clauses[i] = "(',' || chunks.tags || ',') LIKE ?"
		args[i] = "%," + r + ",%"
	}
	return strings.Join(clauses, " OR "), args
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Neighbors returns every edge touching chunkID, in either direction.
func (s *Store) Neighbors(ctx context.Context, chunkID int64) ([]model.Edge, error) {
	var rows []EdgeEntity
	err := s.db.Session(ctx).
		Where("(source_is_chunk = ? AND source_chunk_id = ?) OR (target_is_chunk = ? AND target_chunk_id = ?)", true, chunkID, true, chunkID).
		Find(&rows).Error
	if err != nil {
		return nil, cpgerrors.Transient("load neighbors", err)
	}
	return fromEdgeEntities(rows), nil
}

// Parent returns the chunk's enclosing chunk via its child_of edge, if any.
func (s *Store) Parent(ctx context.Context, chunkID int64) (model.Edge, bool, error) {
	var row EdgeEntity
	err := s.db.Session(ctx).
		Where("source_is_chunk = ? AND source_chunk_id = ? AND relation = ?", true, chunkID, string(model.RelationChildOf)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Edge{}, false, nil
		}
		return model.Edge{}, false, cpgerrors.Transient("load parent", err)
	}
	return fromEdgeEntity(row), true, nil
}

// IncomingRefs returns edges referencing chunkID that are not child_of
// links, i.e. cross-file relations pointing at this chunk.
func (s *Store) IncomingRefs(ctx context.Context, chunkID int64) ([]model.Edge, error) {
	var rows []EdgeEntity
	err := s.db.Session(ctx).
		Where("target_is_chunk = ? AND target_chunk_id = ? AND relation != ?", true, chunkID, string(model.RelationChildOf)).
		Find(&rows).Error
	if err != nil {
		return nil, cpgerrors.Transient("load incoming refs", err)
	}
	return fromEdgeEntities(rows), nil
}

// OutgoingCalls returns the call edges originating from chunkID.
func (s *Store) OutgoingCalls(ctx context.Context, chunkID int64) ([]model.Edge, error) {
	var rows []EdgeEntity
	err := s.db.Session(ctx).
		Where("source_is_chunk = ? AND source_chunk_id = ? AND relation = ?", true, chunkID, string(model.RelationCalls)).
		Find(&rows).Error
	if err != nil {
		return nil, cpgerrors.Transient("load outgoing calls", err)
	}
	return fromEdgeEntities(rows), nil
}

// FindCachedFile looks up the most recent fully-parsed file sharing
// gitHash within repoID's history, across any prior snapshot, so the
// indexer can reattach it to a new snapshot without re-parsing.
func (s *Store) FindCachedFile(ctx context.Context, repoID int64, gitHash string) (FileEntity, bool, error) {
	var entity FileEntity
	err := s.db.Session(ctx).Table("files").
		Joins("JOIN snapshots ON snapshots.id = files.snapshot_id").
		Where("snapshots.repository_id = ? AND files.git_hash = ? AND files.parsing_status = ?", repoID, gitHash, string(model.ParsingOK)).
		Order("files.id DESC").
		Select("files.*").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FileEntity{}, false, nil
		}
		return FileEntity{}, false, cpgerrors.Transient("find cached file", err)
	}
	return entity, true, nil
}

// CloneFileIntoSnapshot reattaches a previously parsed file (and its
// chunks, child_of structure and full-text entries) to a new snapshot
// without re-running the parser. Cross-file edges are deliberately not
// cloned here: the relation extractor re-resolves them against every
// file in the new snapshot regardless of cache hit/miss, since resolution
// depends on sibling files' chunk IDs which may not exist yet mid-run.
func (s *Store) CloneFileIntoSnapshot(ctx context.Context, sourceFileID, newSnapshotID int64) (model.File, error) {
	var newFile model.File
	err := s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var source FileEntity
		if err := tx.First(&source, sourceFileID).Error; err != nil {
			return err
		}

		clone := source
		clone.ID = 0
		clone.SnapshotID = newSnapshotID
		if err := tx.Create(&clone).Error; err != nil {
			return err
		}
		newFile = fromFileEntity(clone)

		var sourceChunks []ChunkEntity
		if err := tx.Where("file_id = ?", sourceFileID).Find(&sourceChunks).Error; err != nil {
			return err
		}
		if len(sourceChunks) == 0 {
			return nil
		}

		oldToNew := make(map[int64]int64, len(sourceChunks))
		newChunks := make([]ChunkEntity, len(sourceChunks))
		for i, c := range sourceChunks {
			newChunks[i] = c
			newChunks[i].ID = 0
			newChunks[i].FileID = clone.ID
		}
		if err := tx.Create(&newChunks).Error; err != nil {
			return err
		}
		for i, c := range sourceChunks {
			oldToNew[c.ID] = newChunks[i].ID
		}

		oldIDs := make([]int64, len(sourceChunks))
		for i, c := range sourceChunks {
			oldIDs[i] = c.ID
		}

		var childEdges []EdgeEntity
		err := tx.Where("relation = ? AND source_is_chunk = ? AND source_chunk_id IN ?", string(model.RelationChildOf), true, oldIDs).
			Find(&childEdges).Error
		if err != nil {
			return err
		}
		if len(childEdges) > 0 {
			cloned := make([]EdgeEntity, 0, len(childEdges))
			for _, e := range childEdges {
				newSource, ok := oldToNew[e.SourceChunkID.Int64]
				if !ok {
					continue
				}
				clonedEdge := e
				clonedEdge.ID = 0
				clonedEdge.SourceChunkID = sql.NullInt64{Int64: newSource, Valid: true}
				if e.TargetIsChunk {
					newTarget, ok := oldToNew[e.TargetChunkID.Int64]
					if !ok {
						continue
					}
					clonedEdge.TargetChunkID = sql.NullInt64{Int64: newTarget, Valid: true}
				} else {
					clonedEdge.TargetFileID = sql.NullInt64{Int64: clone.ID, Valid: true}
				}
				cloned = append(cloned, clonedEdge)
			}
			if len(cloned) > 0 {
				if err := tx.Create(&cloned).Error; err != nil {
					return err
				}
			}
		}

		var sourceFTS []FTSEntryEntity
		if err := tx.Where("chunk_id IN ?", oldIDs).Find(&sourceFTS).Error; err != nil {
			return err
		}
		if len(sourceFTS) > 0 {
			clonedFTS := make([]FTSEntryEntity, 0, len(sourceFTS))
			for _, f := range sourceFTS {
				newChunkID, ok := oldToNew[f.ChunkID.Int64]
				if !ok {
					continue
				}
				clonedFTS = append(clonedFTS, FTSEntryEntity{
					ChunkID: sql.NullInt64{Int64: newChunkID, Valid: true}, SnapshotID: newSnapshotID, FileID: clone.ID, Document: f.Document,
				})
			}
			if len(clonedFTS) > 0 {
				if err := tx.Create(&clonedFTS).Error; err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return model.File{}, cpgerrors.Transient("clone cached file into snapshot", err)
	}
	return newFile, nil
}

// ChunkContext carries everything the embedding pipeline's prompt template
// needs for one chunk.
type ChunkContext struct {
	ChunkID     int64
	FileID      int64
	Path        string
	Language    string
	Category    string
	Text        string
	Tags        []string
	Identifiers []string
	LineStart   int
	LineEnd     int
}

type chunkContextRow struct {
	ChunkID     int64
	FileID      int64
	Path        string
	Language    string
	Category    string
	Text        string
	Tags        string
	Identifiers string
	LineStart   int
	LineEnd     int
}

const chunkContextSelect = "chunks.id AS chunk_id, chunks.file_id AS file_id, files.path AS path, " +
	"files.language AS language, files.category AS category, contents.text AS text, " +
	"chunks.tags AS tags, chunks.identifiers AS identifiers, " +
	"chunks.line_start AS line_start, chunks.line_end AS line_end"

func (r chunkContextRow) toChunkContext() ChunkContext {
	return ChunkContext{
		ChunkID: r.ChunkID, FileID: r.FileID, Path: r.Path, Language: r.Language, Category: r.Category,
		Text: r.Text, Tags: splitNonEmpty(r.Tags), Identifiers: splitNonEmpty(r.Identifiers),
		LineStart: r.LineStart, LineEnd: r.LineEnd,
	}
}

// ListChunkContexts returns prompt-building context for every chunk in a
// snapshot.
func (s *Store) ListChunkContexts(ctx context.Context, snapshotID int64) ([]ChunkContext, error) {
	var rows []chunkContextRow
	err := s.db.Session(ctx).Table("chunks").
		Select(chunkContextSelect).
		Joins("JOIN files ON files.id = chunks.file_id").
		Joins("JOIN contents ON contents.hash = chunks.content_hash").
		Where("files.snapshot_id = ?", snapshotID).
		Find(&rows).Error
	if err != nil {
		return nil, cpgerrors.Transient("list chunk contexts", err)
	}
	out := make([]ChunkContext, len(rows))
	for i, r := range rows {
		out[i] = r.toChunkContext()
	}
	return out, nil
}

// ChunkContextsByIDs returns prompt/render context for exactly the given
// chunk IDs, used by the retrieval engine to enrich search hits without
// loading a whole snapshot's worth of chunks.
func (s *Store) ChunkContextsByIDs(ctx context.Context, chunkIDs []int64) (map[int64]ChunkContext, error) {
	out := make(map[int64]ChunkContext, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	var rows []chunkContextRow
	err := s.db.Session(ctx).Table("chunks").
		Select(chunkContextSelect).
		Joins("JOIN files ON files.id = chunks.file_id").
		Joins("JOIN contents ON contents.hash = chunks.content_hash").
		Where("chunks.id IN ?", chunkIDs).
		Find(&rows).Error
	if err != nil {
		return nil, cpgerrors.Transient("load chunk contexts by id", err)
	}
	for _, r := range rows {
		out[r.ChunkID] = r.toChunkContext()
	}
	return out, nil
}

// EmbeddedChunkIDs returns the set of chunk IDs in a snapshot that already
// have a vector under embeddingModel.
func (s *Store) EmbeddedChunkIDs(ctx context.Context, snapshotID int64, embeddingModel string) (map[int64]bool, error) {
	var ids []int64
	err := s.db.Session(ctx).Model(&EmbeddingEntity{}).
		Where("snapshot_id = ? AND model = ?", snapshotID, embeddingModel).
		Pluck("chunk_id", &ids).Error
	if err != nil {
		return nil, cpgerrors.Transient("list embedded chunk ids", err)
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// IncomingDefines returns the distinct "name" metadata values of the edges
// pointing at chunkID (every relation except child_of), used to populate a
// prompt's "Defines" line. Edges without a "name" entry contribute nothing.
func (s *Store) IncomingDefines(ctx context.Context, chunkID int64) ([]string, error) {
	edges, err := s.IncomingRefs(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	for _, e := range edges {
		if name, ok := e.Metadata()["name"]; ok && name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// StagingRow is one row to enter into the embedding write-ahead area.
type StagingRow struct {
	ChunkID    int64
	SnapshotID int64
	FileID     int64
	PromptHash string
	Model      string
	Prompt     string
}

// PrepareStaging clears any stale staging rows left by a previous, failed
// attempt at embedding this snapshot under this model.
func (s *Store) PrepareStaging(ctx context.Context, snapshotID int64, embeddingModel string) error {
	err := s.db.Session(ctx).Where("snapshot_id = ? AND model = ?", snapshotID, embeddingModel).
		Delete(&EmbeddingStagingEntity{}).Error
	if err != nil {
		return cpgerrors.Transient("prepare staging", err)
	}
	return nil
}

// Stage bulk-inserts staging rows for every chunk awaiting embedding.
func (s *Store) Stage(ctx context.Context, rows []StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	entities := make([]EmbeddingStagingEntity, len(rows))
	for i, r := range rows {
		entities[i] = EmbeddingStagingEntity{
			ChunkID: r.ChunkID, SnapshotID: r.SnapshotID, FileID: r.FileID,
			PromptHash: r.PromptHash, Model: r.Model, Prompt: r.Prompt,
		}
	}
	if err := s.db.Session(ctx).Create(&entities).Error; err != nil {
		return cpgerrors.Transient("stage chunks", err)
	}
	return nil
}

// CopyCachedVectors backfills staging rows whose prompt hash already has a
// persisted embedding under embeddingModel, elsewhere in the corpus,
// sparing the provider a redundant call. It returns the number backfilled.
func (s *Store) CopyCachedVectors(ctx context.Context, snapshotID int64, embeddingModel string) (int, error) {
	var pending []EmbeddingStagingEntity
	err := s.db.Session(ctx).
		Where("snapshot_id = ? AND model = ? AND embedded = ?", snapshotID, embeddingModel, false).
		Find(&pending).Error
	if err != nil {
		return 0, cpgerrors.Transient("load pending staging rows", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	hashes := make([]string, 0, len(pending))
	seen := make(map[string]bool)
	for _, p := range pending {
		if !seen[p.PromptHash] {
			seen[p.PromptHash] = true
			hashes = append(hashes, p.PromptHash)
		}
	}

	var cached []EmbeddingEntity
	err = s.db.Session(ctx).Where("model = ? AND prompt_hash IN ?", embeddingModel, hashes).Find(&cached).Error
	if err != nil {
		return 0, cpgerrors.Transient("load cached embeddings", err)
	}
	byHash := make(map[string]string, len(cached))
	for _, c := range cached {
		byHash[c.PromptHash] = c.VectorJSON
	}

	hits := 0
	for _, p := range pending {
		vectorJSON, ok := byHash[p.PromptHash]
		if !ok {
			continue
		}
		err := s.db.Session(ctx).Model(&EmbeddingStagingEntity{}).Where("id = ?", p.ID).
			Updates(map[string]any{"vector_json": vectorJSON, "embedded": true}).Error
		if err != nil {
			return hits, cpgerrors.Transient("backfill cached vector", err)
		}
		hits++
	}
	return hits, nil
}

// FetchStagingDelta returns up to limit staging rows still awaiting a
// freshly computed vector.
func (s *Store) FetchStagingDelta(ctx context.Context, snapshotID int64, embeddingModel string, limit int) ([]StagingRow, error) {
	var entities []EmbeddingStagingEntity
	db := s.db.Session(ctx).Where("snapshot_id = ? AND model = ? AND embedded = ?", snapshotID, embeddingModel, false).Order("id")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&entities).Error; err != nil {
		return nil, cpgerrors.Transient("fetch staging delta", err)
	}
	out := make([]StagingRow, len(entities))
	for i, e := range entities {
		out[i] = StagingRow{ChunkID: e.ChunkID, SnapshotID: e.SnapshotID, FileID: e.FileID, PromptHash: e.PromptHash, Model: e.Model, Prompt: e.Prompt}
	}
	return out, nil
}

// DiscardStagingRows removes staging rows that failed embedding, so they
// stop being returned by FetchStagingDelta. They will be re-staged from
// scratch on the run's next attempt.
func (s *Store) DiscardStagingRows(ctx context.Context, snapshotID int64, embeddingModel string, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	err := s.db.Session(ctx).
		Where("snapshot_id = ? AND model = ? AND chunk_id IN ?", snapshotID, embeddingModel, chunkIDs).
		Delete(&EmbeddingStagingEntity{}).Error
	if err != nil {
		return cpgerrors.Transient("discard staging rows", err)
	}
	return nil
}

// StagedVector is a freshly computed vector keyed by chunk, destined for a
// staging row.
type StagedVector struct {
	ChunkID int64
	Vector  []float32
}

// WriteVectors records freshly computed vectors against their staging rows.
func (s *Store) WriteVectors(ctx context.Context, snapshotID int64, embeddingModel string, vectors []StagedVector) error {
	for _, v := range vectors {
		encoded, err := encodeVector(v.Vector)
		if err != nil {
			return cpgerrors.Data("encode vector", err)
		}
		err = s.db.Session(ctx).Model(&EmbeddingStagingEntity{}).
			Where("snapshot_id = ? AND model = ? AND chunk_id = ?", snapshotID, embeddingModel, v.ChunkID).
			Updates(map[string]any{"vector_json": encoded, "embedded": true}).Error
		if err != nil {
			return cpgerrors.Transient("write staged vector", err)
		}
	}
	return nil
}

// PromoteStaging copies every embedded staging row for snapshotID/
// embeddingModel into the durable embeddings table and clears the staging
// area, returning the count promoted.
func (s *Store) PromoteStaging(ctx context.Context, snapshotID int64, embeddingModel string) (int, error) {
	var rows []EmbeddingStagingEntity
	err := s.db.Session(ctx).Where("snapshot_id = ? AND model = ? AND embedded = ?", snapshotID, embeddingModel, true).Find(&rows).Error
	if err != nil {
		return 0, cpgerrors.Transient("load embedded staging rows", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	entities := make([]EmbeddingEntity, len(rows))
	for i, r := range rows {
		entities[i] = EmbeddingEntity{
			ChunkID: r.ChunkID, SnapshotID: r.SnapshotID, FileID: r.FileID,
			VectorJSON: r.VectorJSON.String, PromptHash: r.PromptHash, Model: r.Model, CreatedAt: time.Now(),
		}
	}

	err = s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector_json", "prompt_hash"}),
		}).Create(&entities).Error
		if err != nil {
			return err
		}
		return tx.Where("snapshot_id = ? AND model = ? AND embedded = ?", snapshotID, embeddingModel, true).
			Delete(&EmbeddingStagingEntity{}).Error
	})
	if err != nil {
		return 0, cpgerrors.Transient("promote staging", err)
	}
	return len(rows), nil
}
