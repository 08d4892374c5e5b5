package storage

import (
	"database/sql"
	"time"
)

// RepositoryEntity represents the repositories table.
type RepositoryEntity struct {
	ID                int64         `gorm:"column:id;primaryKey;autoIncrement"`
	RemoteURL         string        `gorm:"column:remote_url;not null;uniqueIndex"`
	Branch            string        `gorm:"column:branch;not null"`
	Name              string        `gorm:"column:name;not null"`
	CurrentSnapshotID sql.NullInt64 `gorm:"column:current_snapshot_id"`
	CreatedAt         time.Time     `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time     `gorm:"column:updated_at;not null"`
}

// TableName returns the table name for GORM.
func (RepositoryEntity) TableName() string { return "repositories" }

// SnapshotEntity represents the snapshots table.
type SnapshotEntity struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RepositoryID int64     `gorm:"column:repository_id;not null;index"`
	CommitHash   string    `gorm:"column:commit_hash;not null"`
	Status       string    `gorm:"column:status;not null;index"`
	FilesTotal   int       `gorm:"column:files_total;default:0"`
	FilesIndexed int       `gorm:"column:files_indexed;default:0"`
	FilesSkipped int       `gorm:"column:files_skipped;default:0"`
	FilesFailed  int       `gorm:"column:files_failed;default:0"`
	ChunksTotal  int       `gorm:"column:chunks_total;default:0"`
	EdgesTotal   int       `gorm:"column:edges_total;default:0"`
	DroppedEdges int       `gorm:"column:dropped_edges;default:0"`
	CacheHits    int       `gorm:"column:cache_hits;default:0"`
	ManifestJSON string    `gorm:"column:manifest_json;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the table name for GORM.
func (SnapshotEntity) TableName() string { return "snapshots" }

// FileEntity represents the files table: one row per versioned file in a
// snapshot.
type FileEntity struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotID    int64          `gorm:"column:snapshot_id;not null;index"`
	Path          string         `gorm:"column:path;not null;index"`
	Language      string         `gorm:"column:language;index"`
	Size          int64          `gorm:"column:size;default:0"`
	Category      string         `gorm:"column:category;index"`
	GitHash       sql.NullString `gorm:"column:git_hash"`
	ParsingStatus string         `gorm:"column:parsing_status;index"`
	ContentHash   sql.NullString `gorm:"column:content_hash"`
}

// TableName returns the table name for GORM.
func (FileEntity) TableName() string { return "files" }

// ContentEntity represents the contents table: content-addressed blobs
// deduplicated globally by SHA-256 hash.
type ContentEntity struct {
	Hash string `gorm:"column:hash;primaryKey"`
	Text string `gorm:"column:text;type:text;not null"`
	Size int    `gorm:"column:size;not null"`
}

// TableName returns the table name for GORM.
func (ContentEntity) TableName() string { return "contents" }

// ChunkEntity represents the chunks table.
type ChunkEntity struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	FileID      int64  `gorm:"column:file_id;not null;index"`
	ContentHash string `gorm:"column:content_hash;not null;index"`
	ByteStart   uint32 `gorm:"column:byte_start;not null"`
	ByteEnd     uint32 `gorm:"column:byte_end;not null"`
	LineStart   int    `gorm:"column:line_start;not null"`
	LineEnd     int    `gorm:"column:line_end;not null"`
	Tags        string `gorm:"column:tags"`
	SymbolType  string `gorm:"column:symbol_type;index"`
	Identifiers string `gorm:"column:identifiers"`
	Oversize    bool   `gorm:"column:oversize;default:false"`
}

// TableName returns the table name for GORM.
func (ChunkEntity) TableName() string { return "chunks" }

// EdgeEntity represents the edges table: a directed relation between two
// chunks, or between a chunk and a file-level pseudo-node (TargetIsChunk
// false, TargetFileID set instead of TargetChunkID).
type EdgeEntity struct {
	ID            int64         `gorm:"column:id;primaryKey;autoIncrement"`
	SourceIsChunk bool          `gorm:"column:source_is_chunk;not null"`
	SourceChunkID sql.NullInt64 `gorm:"column:source_chunk_id;index"`
	SourceFileID  sql.NullInt64 `gorm:"column:source_file_id;index"`
	TargetIsChunk bool          `gorm:"column:target_is_chunk;not null"`
	TargetChunkID sql.NullInt64 `gorm:"column:target_chunk_id;index"`
	TargetFileID  sql.NullInt64 `gorm:"column:target_file_id;index"`
	Relation      string        `gorm:"column:relation;not null;index"`
	MetadataJSON  string        `gorm:"column:metadata_json"`
}

// TableName returns the table name for GORM.
func (EdgeEntity) TableName() string { return "edges" }

// EmbeddingEntity represents the embeddings table. VectorJSON is the
// portable encoding that SearchVectors reads on both backends. The
// Postgres schema adds a pgvector "vector_native" column and HNSW index
// (see postgres.go); nothing in this package writes that column.
type EmbeddingEntity struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkID    int64     `gorm:"column:chunk_id;not null;uniqueIndex:idx_embedding_chunk_model"`
	SnapshotID int64     `gorm:"column:snapshot_id;not null;index"`
	FileID     int64     `gorm:"column:file_id;not null;index"`
	VectorJSON string    `gorm:"column:vector_json;type:text;not null"`
	PromptHash string    `gorm:"column:prompt_hash;not null;index"`
	Model      string    `gorm:"column:model;not null;uniqueIndex:idx_embedding_chunk_model"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName returns the table name for GORM.
func (EmbeddingEntity) TableName() string { return "embeddings" }

// FTSEntryEntity represents the fts_entries table: one weighted token
// document per chunk, scored by token overlap with the query in Go
// (Store.SearchFTS) on both backends. ChunkID is null for a
// file-level entry (a chunkless file's path/language tokens) — SQL
// unique indexes treat nulls as distinct, so any number of file-level
// rows may coexist alongside chunk-keyed ones.
type FTSEntryEntity struct {
	ID         int64         `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkID    sql.NullInt64 `gorm:"column:chunk_id;uniqueIndex"`
	SnapshotID int64         `gorm:"column:snapshot_id;not null;index"`
	FileID     int64         `gorm:"column:file_id;not null;index"`
	Document   string        `gorm:"column:document;type:text;not null"`
}

// TableName returns the table name for GORM.
func (FTSEntryEntity) TableName() string { return "fts_entries" }

// EmbeddingStagingEntity represents the embedding_staging table: the
// write-ahead area for the staged embedding pipeline. Rows are inserted at
// prepare_staging/stage time, backfilled from cached vectors sharing the
// same prompt hash, embedded for the remainder, and cleared at
// promote_staging once their vectors have been copied into EmbeddingEntity.
type EmbeddingStagingEntity struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkID    int64          `gorm:"column:chunk_id;not null;index"`
	SnapshotID int64          `gorm:"column:snapshot_id;not null;index"`
	FileID     int64          `gorm:"column:file_id;not null"`
	PromptHash string         `gorm:"column:prompt_hash;not null;index"`
	Model      string         `gorm:"column:model;not null"`
	Prompt     string         `gorm:"column:prompt;type:text;not null"`
	VectorJSON sql.NullString `gorm:"column:vector_json;type:text"`
	Embedded   bool           `gorm:"column:embedded;default:false;index"`
}

// TableName returns the table name for GORM.
func (EmbeddingStagingEntity) TableName() string { return "embedding_staging" }

// AllModels lists every entity for AutoMigrate, in dependency order.
func AllModels() []any {
	return []any{
		&RepositoryEntity{},
		&SnapshotEntity{},
		&FileEntity{},
		&ContentEntity{},
		&ChunkEntity{},
		&EdgeEntity{},
		&EmbeddingEntity{},
		&FTSEntryEntity{},
		&EmbeddingStagingEntity{},
	}
}
