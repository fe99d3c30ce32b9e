// Package security provides validation, sanitization, and limits for jobflow.
//
// This package includes:
//   - validation of job kinds, queue names and unique keys
//   - payload size enforcement
//   - error message sanitization before storage or publication
//   - clamps on retries and worker concurrency
//
// It imports nothing from jobflow so that pkg/dag and pkg/core can both use it.
package security
