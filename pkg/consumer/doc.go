// Package consumer dispatches dequeued jobs to their handlers and routes
// each handler result.
//
// A Consumer subscribes once to every job kind on a queue. For each job it
// builds a fresh registry.Scope, resolves the handler for the job's kind,
// executes it and branches on the returned core.Result:
//
//   - a terminal result is published once as a job:finished event
//   - a continuation graph is handed once to the task scheduler
//
// The queue's success and failure notifications are republished as
// job:completed and job:failed events. Errors are never handled locally;
// they propagate to the queue, which owns retries.
//
// A job whose kind has no handler fails without retries by default
// (MissFail). Earlier releases acknowledged such jobs silently; that
// behavior now requires WithMissPolicy(MissIgnore). Under MissReport or
// MissIgnore a graph task of an unknown kind still fails its run, since the
// scheduler treats job:unresolved and a job:completed without job:finished
// as task failures.
package consumer
