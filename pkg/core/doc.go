// Package core provides the fundamental types and interfaces for jobflow.
//
// This package contains:
//   - the Job data model with GORM annotations
//   - Result, the Terminal/Continuation union every handler returns
//   - the Storage interface defining the queue persistence contract
//   - event names and payloads published on the event sink
//   - error types for job processing
//
// Most users should import the root package github.com/jdziat/jobflow
// instead of this package directly.
package core
