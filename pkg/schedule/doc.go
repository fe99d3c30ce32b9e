// Package schedule provides the schedules recurring jobs are enqueued on.
//
// This package includes:
//   - Schedule interface
//   - Every() for fixed-interval schedules
//   - Daily() and Weekly() for wall-clock schedules in UTC
//   - Cron() and Parse() for five-field cron expressions
package schedule
