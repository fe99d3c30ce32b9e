// Package registry maps job kinds to handler factories.
//
// The table is closed: every kind is bound when the Registry is built and
// lookups never consult anything else. Resolve constructs a new Handler for
// every Scope so two jobs of the same kind never share handler state.
//
//	reg, err := registry.New(
//	    registry.Bind("send-email", registry.Func(sendEmail)),
//	    registry.Bind("expand-project", newProjectExpander),
//	)
package registry
