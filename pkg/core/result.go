package core

import "github.com/jdziat/jobflow/pkg/dag"

// ResultKind discriminates the two Result variants.
type ResultKind int

const (
	// TerminalResult carries a value to report as job:finished.
	TerminalResult ResultKind = iota + 1
	// ContinuationResult carries a graph of follow-on tasks for the scheduler.
	ContinuationResult
)

func (k ResultKind) String() string {
	switch k {
	case TerminalResult:
		return "terminal"
	case ContinuationResult:
		return "continuation"
	default:
		return "invalid"
	}
}

// Result is what every handler returns: either a terminal value or a
// continuation graph, never both. The zero Result is invalid.
type Result struct {
	kind  ResultKind
	value any
	graph *dag.DAG
}

// Terminal returns a Result reporting value as the job's outcome.
func Terminal(value any) Result {
	return Result{kind: TerminalResult, value: value}
}

// Continue returns a Result handing g to the scheduler.
func Continue(g *dag.DAG) Result {
	return Result{kind: ContinuationResult, graph: g}
}

// Kind returns the variant.
func (r Result) Kind() ResultKind { return r.kind }

// Value returns the terminal value. It is nil for continuations.
func (r Result) Value() any { return r.value }

// Graph returns the continuation graph. It is nil for terminal results.
func (r Result) Graph() *dag.DAG { return r.graph }

// Valid reports whether r was built by Terminal, or by Continue with a
// non-nil graph.
func (r Result) Valid() bool {
	switch r.kind {
	case TerminalResult:
		return true
	case ContinuationResult:
		return r.graph != nil
	default:
		return false
	}
}
