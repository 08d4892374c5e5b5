package storage

import (
	"database/sql"

	"github.com/cpgraph/engine/internal/model"
)

// repositoryMapper implements database.EntityMapper[model.Repository, RepositoryEntity].
type repositoryMapper struct{}

func (repositoryMapper) ToDomain(e RepositoryEntity) model.Repository {
	var snapshotID int64
	hasCurrent := e.CurrentSnapshotID.Valid
	if hasCurrent {
		snapshotID = e.CurrentSnapshotID.Int64
	}
	return model.ReconstructRepository(e.ID, e.RemoteURL, e.Branch, e.Name, snapshotID, hasCurrent, e.CreatedAt, e.UpdatedAt)
}

func (repositoryMapper) ToModel(d model.Repository) RepositoryEntity {
	var current sql.NullInt64
	if id, ok := d.CurrentSnapshot(); ok {
		current = sql.NullInt64{Int64: id, Valid: true}
	}
	return RepositoryEntity{
		ID:                d.ID(),
		RemoteURL:         d.RemoteURL(),
		Branch:            d.Branch(),
		Name:              d.Name(),
		CurrentSnapshotID: current,
		CreatedAt:         d.CreatedAt(),
		UpdatedAt:         d.UpdatedAt(),
	}
}

// snapshotMapper implements database.EntityMapper[model.Snapshot, SnapshotEntity].
type snapshotMapper struct{}

func (snapshotMapper) ToDomain(e SnapshotEntity) model.Snapshot {
	stats := model.SnapshotStats{
		FilesTotal:   e.FilesTotal,
		FilesIndexed: e.FilesIndexed,
		FilesSkipped: e.FilesSkipped,
		FilesFailed:  e.FilesFailed,
		ChunksTotal:  e.ChunksTotal,
		EdgesTotal:   e.EdgesTotal,
		DroppedEdges: e.DroppedEdges,
		CacheHits:    e.CacheHits,
	}
	manifest := decodeManifest(e.ManifestJSON)
	return model.ReconstructSnapshot(e.ID, e.RepositoryID, e.CommitHash, model.SnapshotStatus(e.Status), stats, manifest, e.CreatedAt, e.UpdatedAt)
}

func (snapshotMapper) ToModel(d model.Snapshot) SnapshotEntity {
	stats := d.Stats()
	return SnapshotEntity{
		ID:           d.ID(),
		RepositoryID: d.RepositoryID(),
		CommitHash:   d.CommitHash(),
		Status:       string(d.Status()),
		FilesTotal:   stats.FilesTotal,
		FilesIndexed: stats.FilesIndexed,
		FilesSkipped: stats.FilesSkipped,
		FilesFailed:  stats.FilesFailed,
		ChunksTotal:  stats.ChunksTotal,
		EdgesTotal:   stats.EdgesTotal,
		DroppedEdges: stats.DroppedEdges,
		CacheHits:    stats.CacheHits,
		ManifestJSON: encodeManifest(d.Manifest()),
		CreatedAt:    d.CreatedAt(),
		UpdatedAt:    d.UpdatedAt(),
	}
}
