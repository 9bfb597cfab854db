package selector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/usage"
)

// AffinityHeader is the response header carrying the endpoint a newly
// created assistant was pinned to, so the caller can echo it back via
// calldetails' incoming affinity header on later requests (spec §6).
const AffinityHeader = "x-aicentral-affinity"

// AffinityStore persists the (consumerID, assistantID) -> endpointID
// sticky-routing table. internal/affinitystore provides an in-memory and
// an optional sqlite-backed implementation.
type AffinityStore interface {
	Get(consumerID, assistantID string) (endpointID string, ok bool)
	Set(consumerID, assistantID, endpointID string, ttl time.Duration)
}

// Affinity wraps an inner selector and routes to a previously-pinned
// endpoint when the request names an affinity key that is still within its
// TTL and still reachable through the inner selector (spec §4.3).
type Affinity struct {
	inner Selector
	store AffinityStore
	ttl   time.Duration
}

// NewAffinity builds an Affinity selector. ttl of zero disables recording
// new stickiness (spec: "default: none unless WithEndpointAffinity").
func NewAffinity(inner Selector, store AffinityStore, ttl time.Duration) *Affinity {
	return &Affinity{inner: inner, store: store, ttl: ttl}
}

func (s *Affinity) Flatten() []endpoint.Dispatcher { return s.inner.Flatten() }

func (s *Affinity) byID(id string) endpoint.Dispatcher {
	for _, d := range s.Flatten() {
		if d.ID() == id {
			return d
		}
	}
	return nil
}

func (s *Affinity) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	if cd.PreferredEndpointID != "" {
		if d := s.byID(cd.PreferredEndpointID); d != nil {
			return d.Dispatch(ctx, w, r, cd)
		}
	}

	if s.store != nil && cd.AssistantID != "" {
		if endpointID, ok := s.store.Get(cd.ConsumerID, cd.AssistantID); ok {
			if d := s.byID(endpointID); d != nil {
				return d.Dispatch(ctx, w, r, cd)
			}
		}
	}

	if s.ttl <= 0 || s.store == nil {
		return s.inner.Dispatch(ctx, w, r, cd)
	}

	// A fresh assistant may be created by this call (its id only appears
	// in the response body), so buffer the one call kind that needs it
	// rather than every request through this selector.
	if cd.CallKind != calldetails.CallKindAssistantControl {
		return s.inner.Dispatch(ctx, w, r, cd)
	}

	rec := httptest.NewRecorder()
	info := s.inner.Dispatch(ctx, rec, r, cd)
	if info.Success {
		assistantID := cd.AssistantID
		if assistantID == "" {
			assistantID = gjson.GetBytes(rec.Body.Bytes(), "id").String()
		}
		if assistantID != "" {
			s.store.Set(cd.ConsumerID, assistantID, info.EndpointID, s.ttl)
			rec.Header().Set(AffinityHeader, info.EndpointID)
		}
	}
	commit(w, rec)
	return info
}
