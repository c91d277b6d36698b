package explain

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FieldAliases are the names a scoring response may carry its explanation under,
// in lookup order.
var FieldAliases = []string{"explanation", "explanation_json", "explanationJson", "explanationText"}

// ResolveField returns the first non-nil explanation value in m.
func ResolveField(m map[string]any) (any, bool) {
	for _, alias := range FieldAliases {
		if v, ok := m[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Result pairs a normalized explanation with the shape it was decoded from.
type Result struct {
	Explanation Explanation
	Shape       Shape
}

// NormalizeAll normalizes raws on up to workers goroutines. Results keep input order.
// The only error is the context's.
func (n *Normalizer) NormalizeAll(ctx context.Context, raws []any, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range raws {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, shape := n.NormalizeShape(raws[i])
			results[i] = Result{Explanation: e, Shape: shape}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
