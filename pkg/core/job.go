package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the transport-level state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job represents a unit of work dequeued from a queue.
//
// Identity is the queue-assigned ID; the job is not modified while a
// consumer processes it.
type Job struct {
	ID              string     `gorm:"primaryKey;size:36"`
	Kind            string     `gorm:"index;size:255;not null"`
	Payload         []byte     `gorm:"type:bytes"`
	Queue           string     `gorm:"index;size:255;default:'default'"`
	Priority        int        `gorm:"index;default:0"`
	Status          JobStatus  `gorm:"index;size:20;default:'pending'"`
	Attempt         int        `gorm:"default:0"`
	MaxRetries      int        `gorm:"default:0"`
	LastError       string     `gorm:"type:text"`
	RunAt           *time.Time `gorm:"index"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
	LockedBy        string     `gorm:"size:255"`
	LockedUntil     *time.Time `gorm:"index"`
	LastHeartbeatAt *time.Time
	UniqueKey       string     `gorm:"index;size:255"`
}

// TaskID returns the taskId carried in the payload, or "" when the payload
// is not a JSON object or has no string taskId.
func (j *Job) TaskID() string {
	if j == nil || len(j.Payload) == 0 {
		return ""
	}
	var meta struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(j.Payload, &meta); err != nil {
		return ""
	}
	return meta.TaskID
}
