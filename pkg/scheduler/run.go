package scheduler

import (
	"strings"
	"time"

	"github.com/jdziat/jobflow/pkg/dag"
)

// RunStatus is the state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TaskState is the state of one task within a run.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskQueued  TaskState = "queued"
	// TaskWaiting is a task whose handler continued into a child run.
	TaskWaiting TaskState = "waiting"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// Run is a snapshot of a scheduled graph.
type Run struct {
	ID string
	// ParentTask is the task reference this run continues, if any.
	ParentTask string
	Status     RunStatus
	Tasks      map[string]TaskState
	Results    map[string]any
	JobIDs     map[string]string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

type run struct {
	Run
	graph *dag.DAG
	// children maps task ids to the child run they are waiting on.
	children map[string]string
}

func newRun(id string, g *dag.DAG, parent string) *run {
	r := &run{
		Run: Run{
			ID:         id,
			ParentTask: parent,
			Status:     RunRunning,
			Tasks:      make(map[string]TaskState, g.Len()),
			Results:    make(map[string]any),
			JobIDs:     make(map[string]string),
			StartedAt:  time.Now().UTC(),
		},
		graph:    g,
		children: make(map[string]string),
	}
	for _, t := range g.Tasks() {
		r.Tasks[t.ID] = TaskPending
	}
	return r
}

func (r *run) done() map[string]bool {
	out := make(map[string]bool, len(r.Tasks))
	for id, st := range r.Tasks {
		if st == TaskDone {
			out[id] = true
		}
	}
	return out
}

// ready moves every pending task whose dependencies are done to queued and
// returns them.
func (r *run) ready() []dag.Task {
	var out []dag.Task
	for _, t := range r.graph.Ready(r.done()) {
		if r.Tasks[t.ID] == TaskPending {
			r.Tasks[t.ID] = TaskQueued
			out = append(out, t)
		}
	}
	return out
}

func (r *run) complete() bool {
	for _, st := range r.Tasks {
		if st != TaskDone {
			return false
		}
	}
	return true
}

func (r *run) finish(status RunStatus, errMsg string) {
	r.Status = status
	r.Error = errMsg
	r.FinishedAt = time.Now().UTC()
}

func (r *run) snapshot() Run {
	s := r.Run
	s.Tasks = make(map[string]TaskState, len(r.Tasks))
	for k, v := range r.Tasks {
		s.Tasks[k] = v
	}
	s.Results = make(map[string]any, len(r.Results))
	for k, v := range r.Results {
		s.Results[k] = v
	}
	s.JobIDs = make(map[string]string, len(r.JobIDs))
	for k, v := range r.JobIDs {
		s.JobIDs[k] = v
	}
	return s
}

// TaskRef returns the task reference carried in a task job's payload.
func TaskRef(runID, taskID string) string {
	return runID + ":" + taskID
}

// ParseTaskRef splits a reference produced by TaskRef. Run ids never contain
// a colon; task ids may.
func ParseTaskRef(ref string) (runID, taskID string, ok bool) {
	runID, taskID, ok = strings.Cut(ref, ":")
	if !ok || runID == "" || taskID == "" {
		return "", "", false
	}
	return runID, taskID, true
}
