package core

import (
	"context"
	"time"
)

// Storage persists jobs for a queue. Implementations must be safe for
// concurrent use by several workers, possibly in different processes.
//
// Complete, Fail and Heartbeat only act on a job locked by workerID and
// return ErrJobNotOwned otherwise.
type Storage interface {
	Migrate(ctx context.Context) error

	// Enqueue stores a pending job.
	Enqueue(ctx context.Context, job *Job) error
	// EnqueueUnique is Enqueue guarded by uniqueKey; ErrDuplicateJob while
	// another pending or running job holds the key.
	EnqueueUnique(ctx context.Context, job *Job, uniqueKey string) error

	// Dequeue claims the next eligible job of queues for workerID, or
	// returns nil, nil when none is due. The claim increments Attempt.
	Dequeue(ctx context.Context, queues []string, workerID string) (*Job, error)
	Complete(ctx context.Context, jobID, workerID string) error
	// Fail records errMsg. A non-nil retryAt returns the job to pending
	// at that time; nil fails it permanently.
	Fail(ctx context.Context, jobID, workerID, errMsg string, retryAt *time.Time) error

	// Heartbeat extends the lock of a running job.
	Heartbeat(ctx context.Context, jobID, workerID string) error
	// ReleaseStaleLocks returns running jobs whose lock expired more than
	// staleDuration ago to pending, and reports how many it released.
	ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error)

	// GetJob returns nil, nil for an unknown id.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
}
