package core

import "context"

type jobContextKey struct{}

// WithJob attaches the job being processed to ctx.
func WithJob(ctx context.Context, job *Job) context.Context {
	return context.WithValue(ctx, jobContextKey{}, job)
}

// JobFromContext returns the job attached by WithJob.
func JobFromContext(ctx context.Context) (*Job, bool) {
	job, ok := ctx.Value(jobContextKey{}).(*Job)
	return job, ok && job != nil
}
