// Package storage provides optional archiving of produced audio chunks to
// object storage. Archiving is off unless S3 is configured; the scratch
// workspace remains the only local state either way.
package storage

import (
	"context"

	"github.com/assetworks/asset-processing-service/internal/job"
)

// ChunkArchiver persists produced audio chunks outside the job workspace.
type ChunkArchiver interface {
	// ArchiveChunk uploads one chunk under the job's prefix and returns the
	// resulting URL.
	ArchiveChunk(ctx context.Context, jobID string, chunk job.AudioChunk) (url string, err error)
}
