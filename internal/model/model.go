// Package model defines the core Code Property Graph entities: repositories,
// snapshots, files, content blobs, chunks, edges, embeddings and full-text
// entries. Types are immutable value objects constructed through
// constructors and inspected through getters, matching the rest of the
// engine's domain layer.
package model

import "time"

// SnapshotStatus is the lifecycle state of a Snapshot.
type SnapshotStatus string

// SnapshotStatus values.
const (
	SnapshotIndexing  SnapshotStatus = "indexing"
	SnapshotCompleted SnapshotStatus = "completed"
	SnapshotFailed    SnapshotStatus = "failed"
)

// FileCategory classifies a file by its role in the repository.
type FileCategory string

// FileCategory values.
const (
	CategorySource FileCategory = "source"
	CategoryTest   FileCategory = "test"
	CategoryConfig FileCategory = "config"
	CategoryDocs   FileCategory = "docs"
)

// ParsingStatus records whether a file was successfully chunked.
type ParsingStatus string

// ParsingStatus values.
const (
	ParsingOK      ParsingStatus = "ok"
	ParsingSkipped ParsingStatus = "skipped"
	ParsingFailed  ParsingStatus = "failed"
)

// EdgeRelation enumerates the kinds of edges between chunks.
type EdgeRelation string

// EdgeRelation values.
const (
	RelationChildOf      EdgeRelation = "child_of"
	RelationCalls        EdgeRelation = "calls"
	RelationReferences   EdgeRelation = "references"
	RelationImports      EdgeRelation = "imports"
	RelationInherits     EdgeRelation = "inherits"
	RelationDefines      EdgeRelation = "defines"
	RelationReadsFrom    EdgeRelation = "reads_from"
	RelationInstantiates EdgeRelation = "instantiates"
)

// Repository is a tracked Git repository with at most one active snapshot.
type Repository struct {
	id              int64
	remoteURL       string
	branch          string
	name            string
	currentSnapshot int64
	hasCurrent      bool
	createdAt       time.Time
	updatedAt       time.Time
}

// NewRepository constructs a Repository prior to persistence.
func NewRepository(remoteURL, branch, name string) Repository {
	now := time.Now()
	return Repository{
		remoteURL: remoteURL,
		branch:    branch,
		name:      name,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructRepository rebuilds a Repository from storage.
func ReconstructRepository(id int64, remoteURL, branch, name string, currentSnapshot int64, hasCurrent bool, createdAt, updatedAt time.Time) Repository {
	return Repository{
		id:              id,
		remoteURL:       remoteURL,
		branch:          branch,
		name:            name,
		currentSnapshot: currentSnapshot,
		hasCurrent:      hasCurrent,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// ID returns the repository ID.
func (r Repository) ID() int64 { return r.id }

// RemoteURL returns the remote URL.
func (r Repository) RemoteURL() string { return r.remoteURL }

// Branch returns the tracked branch.
func (r Repository) Branch() string { return r.branch }

// Name returns the display name.
func (r Repository) Name() string { return r.name }

// CurrentSnapshot returns the active snapshot ID and whether one is set.
func (r Repository) CurrentSnapshot() (int64, bool) { return r.currentSnapshot, r.hasCurrent }

// CreatedAt returns the creation timestamp.
func (r Repository) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last update timestamp.
func (r Repository) UpdatedAt() time.Time { return r.updatedAt }

// Snapshot is an immutable view of a repository at a single commit.
type Snapshot struct {
	id         int64
	repoID     int64
	commitHash string
	status     SnapshotStatus
	stats      SnapshotStats
	manifest   Manifest
	createdAt  time.Time
	updatedAt  time.Time
}

// SnapshotStats summarizes an indexing run.
type SnapshotStats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	ChunksTotal  int
	EdgesTotal   int
	DroppedEdges int
	CacheHits    int
}

// NewSnapshot constructs a Snapshot in the indexing state.
func NewSnapshot(repoID int64, commitHash string) Snapshot {
	now := time.Now()
	return Snapshot{
		repoID:     repoID,
		commitHash: commitHash,
		status:     SnapshotIndexing,
		createdAt:  now,
		updatedAt:  now,
	}
}

// ReconstructSnapshot rebuilds a Snapshot from storage.
func ReconstructSnapshot(id, repoID int64, commitHash string, status SnapshotStatus, stats SnapshotStats, manifest Manifest, createdAt, updatedAt time.Time) Snapshot {
	return Snapshot{
		id:         id,
		repoID:     repoID,
		commitHash: commitHash,
		status:     status,
		stats:      stats,
		manifest:   manifest,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// ID returns the snapshot ID.
func (s Snapshot) ID() int64 { return s.id }

// RepositoryID returns the owning repository ID.
func (s Snapshot) RepositoryID() int64 { return s.repoID }

// CommitHash returns the commit SHA this snapshot was built from.
func (s Snapshot) CommitHash() string { return s.commitHash }

// Status returns the lifecycle status.
func (s Snapshot) Status() SnapshotStatus { return s.status }

// Stats returns the indexing statistics.
func (s Snapshot) Stats() SnapshotStats { return s.stats }

// Manifest returns the directory manifest.
func (s Snapshot) Manifest() Manifest { return s.manifest }

// CreatedAt returns the creation timestamp.
func (s Snapshot) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last update timestamp.
func (s Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// IsActive returns true if a reader may observe this snapshot as current.
func (s Snapshot) IsActive() bool { return s.status == SnapshotCompleted }

// ManifestEntryType distinguishes directories from files in a Manifest.
type ManifestEntryType string

// ManifestEntryType values.
const (
	ManifestDir  ManifestEntryType = "dir"
	ManifestFile ManifestEntryType = "file"
)

// Manifest is a nested directory tree rooted at the repository root.
type Manifest struct {
	Name     string            `json:"name"`
	Type     ManifestEntryType `json:"type"`
	Children []Manifest        `json:"children,omitempty"`
}

// File is a single versioned file within a snapshot.
type File struct {
	id            int64
	snapshotID    int64
	path          string
	language      string
	size          int64
	category      FileCategory
	gitHash       string
	hasGitHash    bool
	parsingStatus ParsingStatus
	contentHash   string
}

// NewFile constructs a File prior to persistence.
func NewFile(snapshotID int64, path, language string, size int64, category FileCategory, gitHash string, hasGitHash bool) File {
	return File{
		snapshotID: snapshotID,
		path:       path,
		language:   language,
		size:       size,
		category:   category,
		gitHash:    gitHash,
		hasGitHash: hasGitHash,
	}
}

// ReconstructFile rebuilds a File from storage.
func ReconstructFile(id, snapshotID int64, path, language string, size int64, category FileCategory, gitHash string, hasGitHash bool, parsingStatus ParsingStatus, contentHash string) File {
	return File{
		id:            id,
		snapshotID:    snapshotID,
		path:          path,
		language:      language,
		size:          size,
		category:      category,
		gitHash:       gitHash,
		hasGitHash:    hasGitHash,
		parsingStatus: parsingStatus,
		contentHash:   contentHash,
	}
}

// WithParsing returns a copy with the parsing status and whole-file content hash set.
func (f File) WithParsing(status ParsingStatus, contentHash string) File {
	f.parsingStatus = status
	f.contentHash = contentHash
	return f
}

// ID returns the file ID.
func (f File) ID() int64 { return f.id }

// SnapshotID returns the owning snapshot ID.
func (f File) SnapshotID() int64 { return f.snapshotID }

// Path returns the repo-relative POSIX path.
func (f File) Path() string { return f.path }

// Language returns the detected language tag.
func (f File) Language() string { return f.language }

// Size returns the file size in bytes.
func (f File) Size() int64 { return f.size }

// Category returns the file classification.
func (f File) Category() FileCategory { return f.category }

// GitHash returns the Git blob SHA-1 and whether the file is tracked.
func (f File) GitHash() (string, bool) { return f.gitHash, f.hasGitHash }

// IsTracked reports whether the file has a Git blob hash.
func (f File) IsTracked() bool { return f.hasGitHash }

// ParsingStatus returns the parsing outcome.
func (f File) ParsingStatus() ParsingStatus { return f.parsingStatus }

// ContentHash returns the whole-file content hash (set when parsing was
// skipped or failed, so the full text can still be recovered).
func (f File) ContentHash() string { return f.contentHash }

// Content is deduplicated text addressed by SHA-256 hash.
type Content struct {
	hash string
	text string
	size int
}

// NewContent constructs a Content row, computing size from the text.
func NewContent(hash, text string) Content {
	return Content{hash: hash, text: text, size: len(text)}
}

// Hash returns the SHA-256 content hash.
func (c Content) Hash() string { return c.hash }

// Text returns the content text.
func (c Content) Text() string { return c.text }

// Size returns the byte length of the text.
func (c Content) Size() int { return c.size }

// ByteRange is a half-open byte interval [Start, End).
type ByteRange struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes spanned.
func (r ByteRange) Len() uint32 { return r.End - r.Start }

// Contains reports whether r fully contains other.
func (r ByteRange) Contains(other ByteRange) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Overlaps reports whether r and other share any byte.
func (r ByteRange) Overlaps(other ByteRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// LineRange is a 1-indexed, inclusive line interval.
type LineRange struct {
	Start int
	End   int
}

// ChunkMetadata carries semantic tags and parser-derived facts about a chunk.
type ChunkMetadata struct {
	Tags        []string `json:"tags,omitempty"`
	SymbolType  string   `json:"symbol_type,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
	Oversize    bool     `json:"oversize,omitempty"`
}

// HasTag reports whether the given semantic tag is present.
func (m ChunkMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Chunk is a byte-precise, syntax-aligned segment of a file.
type Chunk struct {
	id          int64
	fileID      int64
	contentHash string
	byteRange   ByteRange
	lineRange   LineRange
	metadata    ChunkMetadata
}

// NewChunk constructs a Chunk prior to persistence.
func NewChunk(fileID int64, contentHash string, byteRange ByteRange, lineRange LineRange, metadata ChunkMetadata) Chunk {
	return Chunk{
		fileID:      fileID,
		contentHash: contentHash,
		byteRange:   byteRange,
		lineRange:   lineRange,
		metadata:    metadata,
	}
}

// ReconstructChunk rebuilds a Chunk from storage.
func ReconstructChunk(id, fileID int64, contentHash string, byteRange ByteRange, lineRange LineRange, metadata ChunkMetadata) Chunk {
	return Chunk{id: id, fileID: fileID, contentHash: contentHash, byteRange: byteRange, lineRange: lineRange, metadata: metadata}
}

// ID returns the chunk ID.
func (c Chunk) ID() int64 { return c.id }

// FileID returns the owning file ID.
func (c Chunk) FileID() int64 { return c.fileID }

// ContentHash returns the hash of the chunk's text.
func (c Chunk) ContentHash() string { return c.contentHash }

// ByteRange returns the chunk's byte range within the file.
func (c Chunk) ByteRange() ByteRange { return c.byteRange }

// LineRange returns the chunk's line range within the file.
func (c Chunk) LineRange() LineRange { return c.lineRange }

// Metadata returns the chunk's semantic metadata.
func (c Chunk) Metadata() ChunkMetadata { return c.metadata }

// EdgeTarget is a chunk or a file-level pseudo-node.
type EdgeTarget struct {
	ChunkID int64
	IsChunk bool
	FileID  int64
}

// ChunkTarget builds an EdgeTarget pointing at a chunk.
func ChunkTarget(chunkID int64) EdgeTarget { return EdgeTarget{ChunkID: chunkID, IsChunk: true} }

// FileTarget builds an EdgeTarget pointing at a file-level pseudo-node.
func FileTarget(fileID int64) EdgeTarget { return EdgeTarget{FileID: fileID, IsChunk: false} }

// Edge is a directed relation between two chunks, or a chunk and a
// file-level pseudo-node.
type Edge struct {
	id       int64
	source   EdgeTarget
	target   EdgeTarget
	relation EdgeRelation
	metadata map[string]string
}

// NewEdge constructs an Edge prior to persistence.
func NewEdge(source, target EdgeTarget, relation EdgeRelation, metadata map[string]string) Edge {
	return Edge{source: source, target: target, relation: relation, metadata: metadata}
}

// ReconstructEdge rebuilds an Edge from storage.
func ReconstructEdge(id int64, source, target EdgeTarget, relation EdgeRelation, metadata map[string]string) Edge {
	return Edge{id: id, source: source, target: target, relation: relation, metadata: metadata}
}

// ID returns the edge ID.
func (e Edge) ID() int64 { return e.id }

// Source returns the source endpoint.
func (e Edge) Source() EdgeTarget { return e.source }

// Target returns the target endpoint.
func (e Edge) Target() EdgeTarget { return e.target }

// Relation returns the edge's relation kind.
func (e Edge) Relation() EdgeRelation { return e.relation }

// Metadata returns the edge's free-form metadata.
func (e Edge) Metadata() map[string]string { return e.metadata }

// Embedding is one vector for one chunk under one model.
type Embedding struct {
	chunkID    int64
	snapshotID int64
	fileID     int64
	vector     []float32
	promptHash string
	model      string
}

// NewEmbedding constructs an Embedding prior to persistence.
func NewEmbedding(chunkID, snapshotID, fileID int64, vector []float32, promptHash, model string) Embedding {
	v := make([]float32, len(vector))
	copy(v, vector)
	return Embedding{chunkID: chunkID, snapshotID: snapshotID, fileID: fileID, vector: v, promptHash: promptHash, model: model}
}

// ChunkID returns the embedded chunk's ID.
func (e Embedding) ChunkID() int64 { return e.chunkID }

// SnapshotID returns the denormalized snapshot ID.
func (e Embedding) SnapshotID() int64 { return e.snapshotID }

// FileID returns the denormalized file ID.
func (e Embedding) FileID() int64 { return e.fileID }

// Vector returns the embedding vector.
func (e Embedding) Vector() []float32 {
	v := make([]float32, len(e.vector))
	copy(v, e.vector)
	return v
}

// PromptHash returns the SHA-256 hash of the prompt that produced this vector.
func (e Embedding) PromptHash() string { return e.promptHash }

// Model returns the embedding model identifier.
func (e Embedding) Model() string { return e.model }

// FTSEntry is a weighted token bag for one chunk, or, when HasChunk is
// false, for a whole file that has no chunks (parsing_status skipped or
// failed) — its document carries the file's path and language tokens so
// a keyword search can still find the file by path.
type FTSEntry struct {
	chunkID    int64
	hasChunk   bool
	snapshotID int64
	fileID     int64
	document   string
}

// NewFTSEntry constructs a chunk-backed FTSEntry prior to persistence.
func NewFTSEntry(chunkID, snapshotID, fileID int64, document string) FTSEntry {
	return FTSEntry{chunkID: chunkID, hasChunk: true, snapshotID: snapshotID, fileID: fileID, document: document}
}

// NewFileFTSEntry constructs a file-level FTSEntry for a file with no
// chunks, prior to persistence.
func NewFileFTSEntry(snapshotID, fileID int64, document string) FTSEntry {
	return FTSEntry{snapshotID: snapshotID, fileID: fileID, document: document}
}

// ChunkID returns the indexed chunk's ID. Meaningless if HasChunk is false.
func (f FTSEntry) ChunkID() int64 { return f.chunkID }

// HasChunk reports whether this entry indexes a chunk, as opposed to a
// chunkless file's path/language metadata.
func (f FTSEntry) HasChunk() bool { return f.hasChunk }

// SnapshotID returns the denormalized snapshot ID.
func (f FTSEntry) SnapshotID() int64 { return f.snapshotID }

// FileID returns the denormalized file ID.
func (f FTSEntry) FileID() int64 { return f.fileID }

// Document returns the weighted token document.
func (f FTSEntry) Document() string { return f.document }

// Filters narrows search and listing operations. All fields are optional;
// values within a key are OR'd, exclude keys are AND'd across the result.
type Filters struct {
	Language        []string
	ExcludeLanguage []string
	Category        []string
	ExcludeCategory []string
	Role            []string
	ExcludeRole     []string
	PathPrefix      []string
}

// IsEmpty reports whether no filter values are set.
func (f Filters) IsEmpty() bool {
	return len(f.Language) == 0 && len(f.ExcludeLanguage) == 0 &&
		len(f.Category) == 0 && len(f.ExcludeCategory) == 0 &&
		len(f.Role) == 0 && len(f.ExcludeRole) == 0 &&
		len(f.PathPrefix) == 0
}
