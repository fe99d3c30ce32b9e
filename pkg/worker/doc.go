// Package worker provides the Worker that drains a queue.
//
// A Worker polls storage, hands each dequeued job to the queue's processor
// on a bounded pool of goroutines, extends the job's lock while it runs and
// records the outcome. Failed attempts are retried with exponential backoff
// until the job's retry budget is spent; NoRetry errors fail immediately and
// RetryAfter errors pick their own delay. Recurring jobs registered with
// Queue.Schedule are enqueued when the scheduler is enabled.
package worker
