package knowledge

import (
	"context"
	"fmt"

	"github.com/roach88/wavefront/internal/graph"
	"github.com/roach88/wavefront/internal/state"
)

// Retrieve returns a node body that queries k with its upstream result.
// The input must be a string or []string; the body returns []Result.
func Retrieve(k *Knowledge, limit int, filter Filter) graph.Body {
	return graph.FuncWithInput(func(ctx context.Context, _ *state.State, in any) (any, error) {
		var queries []string
		switch v := in.(type) {
		case string:
			queries = []string{v}
		case []string:
			queries = v
		default:
			return nil, fmt.Errorf("retrieve: input must be a string or []string, got %T", in)
		}
		return k.Query(ctx, queries, limit, filter)
	})
}
