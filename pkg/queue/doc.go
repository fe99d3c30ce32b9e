// Package queue provides the Queue that workers consume from.
//
// This package includes:
//   - Queue: processor registration (exact kind or the "*" wildcard),
//     enqueueing and recurring schedules
//   - Option: configuration options for job enqueueing
//   - lifecycle hook registration (start, complete, fail, retry)
//   - the running-job registry used for cancellation
package queue
