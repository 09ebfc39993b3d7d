package ports

import (
	"context"

	"montage/internal/models"
)

// JobRepository keeps render job records after the stream that produced
// them has closed.
type JobRepository interface {
	Create(ctx context.Context, job models.JobRecord) error
	// Update overwrites status, counters, output and failure fields.
	Update(ctx context.Context, job models.JobRecord) error
	Get(ctx context.Context, id string) (models.JobRecord, error)
	List(ctx context.Context, limit int) ([]models.JobRecord, error)
}

// JobQueue hands queued jobs from the API to workers.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job id is available or ctx is done.
	Dequeue(ctx context.Context) (string, error)
}
