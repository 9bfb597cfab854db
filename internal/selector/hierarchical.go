package selector

import (
	"context"
	"math/rand"
	"net/http"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/usage"
)

// Hierarchical composes child selectors transparently: Flatten recurses
// through every child, and Dispatch picks one child uniformly at random
// and delegates entirely to it — a child's own strategy (e.g. Priority's
// tiered fail-over) runs unmodified (spec §4.3).
type Hierarchical struct {
	children []Selector
}

// NewHierarchical builds a Hierarchical selector over child selectors.
func NewHierarchical(children []Selector) *Hierarchical {
	if len(children) == 0 {
		panic("selector: Hierarchical requires at least one child")
	}
	return &Hierarchical{children: children}
}

func (s *Hierarchical) Flatten() []endpoint.Dispatcher { return flattenAll(s.children) }

func (s *Hierarchical) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	child := s.children[rand.Intn(len(s.children))]
	return child.Dispatch(ctx, w, r, cd)
}
