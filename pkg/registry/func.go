package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jdziat/jobflow/pkg/core"
)

// Func builds a Factory from a typed function. The payload is decoded from
// JSON into T before fn is called; a decode failure is not retried.
//
// The returned handlers are stateless so fn must keep any per-job state on
// its own stack or in the scope.
func Func[T any](fn func(ctx context.Context, scope *Scope, args T) (core.Result, error)) Factory {
	return func(scope *Scope) Handler {
		return HandlerFunc(func(ctx context.Context, payload []byte) (core.Result, error) {
			var args T
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &args); err != nil {
					return core.Result{}, core.NoRetry(fmt.Errorf("registry: failed to unmarshal payload: %w", err))
				}
			}
			return fn(ctx, scope, args)
		})
	}
}
