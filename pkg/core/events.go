package core

// Event names published on the event sink.
const (
	EventJobFinished   = "job:finished"
	EventJobCompleted  = "job:completed"
	EventJobFailed     = "job:failed"
	EventJobUnresolved = "job:unresolved"
	EventRunStarted    = "dag:started"
	EventRunCompleted  = "dag:completed"
	EventRunFailed     = "dag:failed"
)

// Finished is the payload of job:finished, published once per terminal job.
type Finished struct {
	JobID  string `json:"jobId"`
	TaskID string `json:"taskId"`
	Result any    `json:"result"`
}

// Lifecycle is the payload of job:completed, job:failed and job:unresolved.
type Lifecycle struct {
	JobID   string `json:"jobId"`
	Kind    string `json:"kind"`
	Queue   string `json:"queue,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewLifecycle builds a Lifecycle payload for job. err may be nil.
func NewLifecycle(job *Job, err error) Lifecycle {
	l := Lifecycle{
		JobID:   job.ID,
		Kind:    job.Kind,
		Queue:   job.Queue,
		TaskID:  job.TaskID(),
		Attempt: job.Attempt,
	}
	if err != nil {
		l.Error = err.Error()
	}
	return l
}

// RunEvent is the payload of the dag:* events.
type RunEvent struct {
	RunID        string `json:"runId"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
	Tasks        int    `json:"tasks"`
	Error        string `json:"error,omitempty"`
}
