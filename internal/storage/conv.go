package storage

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/cpgraph/engine/internal/model"
)

func toFileEntity(f model.File) FileEntity {
	gitHash, hasGitHash := f.GitHash()
	e := FileEntity{
		ID:            f.ID(),
		SnapshotID:    f.SnapshotID(),
		Path:          f.Path(),
		Language:      f.Language(),
		Size:          f.Size(),
		Category:      string(f.Category()),
		ParsingStatus: string(f.ParsingStatus()),
	}
	if hasGitHash {
		e.GitHash = sql.NullString{String: gitHash, Valid: true}
	}
	if hash := f.ContentHash(); hash != "" {
		e.ContentHash = sql.NullString{String: hash, Valid: true}
	}
	return e
}

func fromFileEntity(e FileEntity) model.File {
	return model.ReconstructFile(
		e.ID, e.SnapshotID, e.Path, e.Language, e.Size, model.FileCategory(e.Category),
		e.GitHash.String, e.GitHash.Valid, model.ParsingStatus(e.ParsingStatus), e.ContentHash.String,
	)
}

func toChunkEntity(c model.Chunk) ChunkEntity {
	meta := c.Metadata()
	br := c.ByteRange()
	lr := c.LineRange()
	return ChunkEntity{
		ID:          c.ID(),
		FileID:      c.FileID(),
		ContentHash: c.ContentHash(),
		ByteStart:   br.Start,
		ByteEnd:     br.End,
		LineStart:   lr.Start,
		LineEnd:     lr.End,
		Tags:        strings.Join(meta.Tags, ","),
		SymbolType:  meta.SymbolType,
		Identifiers: strings.Join(meta.Identifiers, ","),
		Oversize:    meta.Oversize,
	}
}

func fromChunkEntity(e ChunkEntity) model.Chunk {
	meta := model.ChunkMetadata{
		SymbolType:  e.SymbolType,
		Oversize:    e.Oversize,
		Tags:        splitNonEmpty(e.Tags),
		Identifiers: splitNonEmpty(e.Identifiers),
	}
	return model.ReconstructChunk(
		e.ID, e.FileID, e.ContentHash,
		model.ByteRange{Start: e.ByteStart, End: e.ByteEnd},
		model.LineRange{Start: e.LineStart, End: e.LineEnd},
		meta,
	)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func toEdgeEntity(e model.Edge) EdgeEntity {
	src := e.Source()
	dst := e.Target()
	entity := EdgeEntity{
		ID:            e.ID(),
		SourceIsChunk: src.IsChunk,
		TargetIsChunk: dst.IsChunk,
		Relation:      string(e.Relation()),
		MetadataJSON:  encodeEdgeMetadata(e.Metadata()),
	}
	if src.IsChunk {
		entity.SourceChunkID = sql.NullInt64{Int64: src.ChunkID, Valid: true}
	} else {
		entity.SourceFileID = sql.NullInt64{Int64: src.FileID, Valid: true}
	}
	if dst.IsChunk {
		entity.TargetChunkID = sql.NullInt64{Int64: dst.ChunkID, Valid: true}
	} else {
		entity.TargetFileID = sql.NullInt64{Int64: dst.FileID, Valid: true}
	}
	return entity
}

func fromEdgeEntity(e EdgeEntity) model.Edge {
	var source, target model.EdgeTarget
	if e.SourceIsChunk {
		source = model.ChunkTarget(e.SourceChunkID.Int64)
	} else {
		source = model.FileTarget(e.SourceFileID.Int64)
	}
	if e.TargetIsChunk {
		target = model.ChunkTarget(e.TargetChunkID.Int64)
	} else {
		target = model.FileTarget(e.TargetFileID.Int64)
	}
	return model.ReconstructEdge(e.ID, source, target, model.EdgeRelation(e.Relation), decodeEdgeMetadata(e.MetadataJSON))
}

func fromEdgeEntities(rows []EdgeEntity) []model.Edge {
	out := make([]model.Edge, len(rows))
	for i, r := range rows {
		out[i] = fromEdgeEntity(r)
	}
	return out
}

func encodeEdgeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeEdgeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func encodeVector(v []float32) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeVector(raw string) ([]float32, error) {
	var v []float32
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}
