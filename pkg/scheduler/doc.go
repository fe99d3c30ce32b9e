// Package scheduler runs continuation graphs on top of the job queue.
//
// StartTask registers a run and enqueues the graph's root tasks as ordinary
// jobs. Each task job carries a taskId of the form "<runID>:<taskID>" in its
// payload. When the consumer reports job:finished for such a job the task is
// marked done and every task whose dependencies are now satisfied is
// enqueued. A job:failed for a task fails the whole run.
//
// A task whose handler returns another graph becomes the parent of the new
// run, and finishes or fails with it.
//
// Run state lives in memory only.
package scheduler
