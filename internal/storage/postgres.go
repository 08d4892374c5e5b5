package storage

import (
	"context"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/database"
)

// applyPostgresExtensions enables pgvector and adds the native vector
// column, its ANN index, and a non-stemming full-text search
// configuration. These are additive to the AutoMigrate schema and are
// skipped entirely on SQLite. SearchVectors and SearchFTS do not use the
// native column or these indexes: on both backends they rank by
// brute-force cosine similarity and token overlap respectively.
func applyPostgresExtensions(ctx context.Context, db database.Database) error {
	session := db.Session(ctx)
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS vector_native vector(1536)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_vector_native ON embeddings USING hnsw (vector_native vector_cosine_ops)`,
		// "simple" performs no stemming: camelCase/snake_case identifiers must
		// survive intact for a keyword search to find them.
		`CREATE INDEX IF NOT EXISTS idx_fts_entries_document ON fts_entries USING gin (to_tsvector('simple', document))`,
		`CREATE INDEX IF NOT EXISTS idx_fts_entries_document_trgm ON fts_entries USING gin (document gin_trgm_ops)`,
	}
	for _, stmt := range statements {
		if err := session.Exec(stmt).Error; err != nil {
			return cpgerrors.State("apply postgres extensions", err)
		}
	}
	return nil
}
