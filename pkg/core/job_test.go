package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Values(t *testing.T) {
	assert.Equal(t, JobStatus("pending"), StatusPending)
	assert.Equal(t, JobStatus("running"), StatusRunning)
	assert.Equal(t, JobStatus("completed"), StatusCompleted)
	assert.Equal(t, JobStatus("failed"), StatusFailed)
}

func TestJob_TaskID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"present", `{"to":"a@b.com","taskId":"t1"}`, "t1"},
		{"absent", `{"to":"a@b.com"}`, ""},
		{"not an object", `"hello"`, ""},
		{"wrong type", `{"taskId":42}`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Payload: []byte(tt.payload)}
			assert.Equal(t, tt.want, job.TaskID())
		})
	}

	var nilJob *Job
	assert.Empty(t, nilJob.TaskID())
}
