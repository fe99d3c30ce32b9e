package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/security"
)

// lockDuration is how long a dequeued job stays claimed without a heartbeat.
const lockDuration = 5 * time.Minute

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db     *gorm.DB
	sqlite bool
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	s := &GormStorage{db: db}
	if db != nil && db.Dialector != nil {
		s.sqlite = db.Dialector.Name() == "sqlite"
	}
	return s
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// IsSQLite reports whether the storage runs on SQLite.
func (s *GormStorage) IsSQLite() bool { return s.sqlite }

// Migrate creates the jobs table.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{})
}

func prepare(job *core.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if job.Queue == "" {
		job.Queue = "default"
	}
}

// Enqueue adds a job to the queue.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	prepare(job)
	return s.db.WithContext(ctx).Create(job).Error
}

// EnqueueUnique adds a job only if no pending or running job holds uniqueKey.
func (s *GormStorage) EnqueueUnique(ctx context.Context, job *core.Job, uniqueKey string) error {
	prepare(job)
	job.UniqueKey = uniqueKey

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&core.Job{}).
			Where("unique_key = ?", uniqueKey).
			Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusRunning}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateJob
		}
		return tx.Create(job).Error
	})
}

// Dequeue claims the next runnable job in queues for workerID.
// It returns nil, nil when nothing is runnable.
func (s *GormStorage) Dequeue(ctx context.Context, queues []string, workerID string) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue IN ?", queues).
			Where("status = ?", core.StatusPending).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("priority DESC, created_at ASC")
		if !s.sqlite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		job.Status = core.StatusRunning
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		job.StartedAt = &now
		job.LastHeartbeatAt = &now
		job.Attempt++

		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a job owned by workerID as completed.
func (s *GormStorage) Complete(ctx context.Context, jobID string, workerID string) error {
	return s.release(ctx, jobID, workerID, map[string]any{
		"status":       core.StatusCompleted,
		"completed_at": time.Now(),
	})
}

// Fail records errMsg on a job owned by workerID. A non-nil retryAt puts the
// job back to pending at that time; otherwise it is failed permanently.
func (s *GormStorage) Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error": security.SanitizeErrorMessage(errMsg),
	}
	if retryAt != nil {
		updates["status"] = core.StatusPending
		updates["run_at"] = *retryAt
	} else {
		updates["status"] = core.StatusFailed
		updates["completed_at"] = time.Now()
	}
	return s.release(ctx, jobID, workerID, updates)
}

func (s *GormStorage) release(ctx context.Context, jobID, workerID string, updates map[string]any) error {
	updates["locked_by"] = ""
	updates["locked_until"] = nil

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Heartbeat extends the lock on a running job.
func (s *GormStorage) Heartbeat(ctx context.Context, jobID string, workerID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(map[string]any{
			"locked_until":      now.Add(lockDuration),
			"last_heartbeat_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ReleaseStaleLocks returns running jobs whose lock expired more than
// staleDuration ago to pending.
func (s *GormStorage) ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ?", core.StatusRunning).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"status":       core.StatusPending,
			"locked_by":    "",
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// GetJob retrieves a job by ID. It returns nil, nil when the job does not exist.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByStatus retrieves up to limit jobs with status, oldest first.
func (s *GormStorage) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// QueueDepth is the number of pending and running jobs in one queue.
type QueueDepth struct {
	Queue   string
	Pending int64
	Running int64
}

// QueueDepths returns the depth of every queue holding pending or running
// jobs, sorted by queue name.
func (s *GormStorage) QueueDepths(ctx context.Context) ([]QueueDepth, error) {
	var rows []struct {
		Queue  string
		Status core.JobStatus
		N      int64
	}
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("queue, status, count(*) AS n").
		Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusRunning}).
		Group("queue, status").
		Order("queue ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var out []QueueDepth
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].Queue != r.Queue {
			out = append(out, QueueDepth{Queue: r.Queue})
		}
		d := &out[len(out)-1]
		switch r.Status {
		case core.StatusPending:
			d.Pending = r.N
		case core.StatusRunning:
			d.Running = r.N
		}
	}
	return out, nil
}
