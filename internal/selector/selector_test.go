package selector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/latency"
	"github.com/aicentral/gateway/internal/tokenestimate"
	"github.com/aicentral/gateway/internal/usage"
)

// fakeDispatcher is a minimal endpoint.Dispatcher double for exercising
// selector logic without a real HTTP round trip. Probe builds an
// endpoint.Probe the same way a real dispatcher would, so selectors under
// test go through the exact peek-then-commit path production code uses;
// Dispatch is just Probe(...).Commit(w), matching azureDispatcher/
// openaiDispatcher.
type fakeDispatcher struct {
	id         string
	statusCode int
	body       string
	streaming  bool
	streamBody io.ReadCloser // when set, used as the streaming body instead of body/chunks
	chunks     []string
	calls      *int
}

func (f *fakeDispatcher) ID() string                       { return f.id }
func (f *fakeDispatcher) Descriptor() *endpoint.Descriptor { return &endpoint.Descriptor{ID: f.id} }

func (f *fakeDispatcher) Probe(ctx context.Context, r *http.Request, cd *calldetails.CallDetails) *endpoint.Probe {
	if f.calls != nil {
		*f.calls++
	}
	success := f.statusCode < 400
	errKind := ""
	if !success {
		switch {
		case f.statusCode == 429:
			errKind = usage.ErrUpstreamRateLimit
		case f.statusCode >= 500:
			errKind = usage.ErrUpstreamTransient
		default:
			errKind = usage.ErrUpstreamPermanent
		}
	}
	info := &usage.Information{
		EndpointID: f.id,
		StatusCode: f.statusCode,
		Success:    success,
		ErrorKind:  errKind,
		Streaming:  f.streaming,
	}
	var rc io.ReadCloser
	switch {
	case f.streamBody != nil:
		rc = f.streamBody
	case f.streaming:
		rc = io.NopCloser(strings.NewReader(strings.Join(f.chunks, "")))
	default:
		rc = io.NopCloser(strings.NewReader(f.body))
	}
	deps := endpoint.Deps{Estimator: tokenestimate.New()}
	return endpoint.NewResponseProbe(ctx, deps, info, http.Header{}, rc, "fake-model", time.Now())
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	return f.Probe(ctx, r, cd).Commit(w)
}

func req() *http.Request { return httptest.NewRequest(http.MethodPost, "/", nil) }

// trackingWriter counts discrete Write calls on top of an
// httptest.ResponseRecorder, so a test can tell a chunked body apart from
// one that arrived as a single buffered write.
type trackingWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.writes++
	return t.ResponseRecorder.Write(p)
}

func TestRandom_DistributesAcrossDispatchers(t *testing.T) {
	a := &fakeDispatcher{id: "a", statusCode: 200}
	b := &fakeDispatcher{id: "b", statusCode: 200}
	sel := NewRandom([]endpoint.Dispatcher{a, b})

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})
		seen[info.EndpointID]++
	}
	assert.Greater(t, seen["a"], 0)
	assert.Greater(t, seen["b"], 0)
}

func TestPriority_FailsOverWithinTierOn500ThenAdvancesTier(t *testing.T) {
	tier1 := &fakeDispatcher{id: "tier1-only", statusCode: 500}
	tier2 := &fakeDispatcher{id: "tier2-only", statusCode: 200}
	sel := NewPriority([][]endpoint.Dispatcher{{tier1}, {tier2}})

	rec := httptest.NewRecorder()
	info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})

	assert.True(t, info.Success)
	assert.Equal(t, "tier2-only", info.EndpointID)
}

func TestPriority_NonRetryable4xxHaltsFailover(t *testing.T) {
	tier1 := &fakeDispatcher{id: "tier1-404", statusCode: 404}
	tier2 := &fakeDispatcher{id: "tier2-200", statusCode: 200}
	sel := NewPriority([][]endpoint.Dispatcher{{tier1}, {tier2}})

	rec := httptest.NewRecorder()
	info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})

	assert.False(t, info.Success)
	assert.Equal(t, "tier1-404", info.EndpointID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestPriority_StreamsFirstCandidateWithoutBufferingWholeBody pins down
// spec §4.2 step 8 for the common multi-endpoint case: a first-tried
// candidate that isn't the last one in the tree still has its body relayed
// chunk by chunk to the real writer as each chunk arrives, rather than being
// read to completion into an intermediate buffer first. The old
// recorder-then-copy design couldn't forward anything to the real writer
// until the candidate's Dispatch call returned, which meant until the whole
// upstream body had been read; this asserts the first chunk is visible on
// the real writer well before the upstream stream finishes.
func TestPriority_StreamsFirstCandidateWithoutBufferingWholeBody(t *testing.T) {
	pr, pw := io.Pipe()
	chunk1 := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n"
	chunk2 := `data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"

	doneFirst := make(chan struct{})
	releaseRest := make(chan struct{})
	go func() {
		_, _ = pw.Write([]byte(chunk1))
		close(doneFirst)
		<-releaseRest
		_, _ = pw.Write([]byte(chunk2))
		_, _ = pw.Write([]byte("data: [DONE]\n\n"))
		_ = pw.Close()
	}()

	onlyCandidate := &fakeDispatcher{id: "only", statusCode: 200, streaming: true, streamBody: pr}
	secondTier := &fakeDispatcher{id: "unused", statusCode: 200}
	sel := NewPriority([][]endpoint.Dispatcher{{onlyCandidate}, {secondTier}})

	tw := &trackingWriter{ResponseRecorder: httptest.NewRecorder()}
	cd := &calldetails.CallDetails{ResponseShape: calldetails.Streaming}

	resultCh := make(chan *usage.Information, 1)
	go func() { resultCh <- sel.Dispatch(context.Background(), tw, req(), cd) }()

	<-doneFirst
	require.Eventually(t, func() bool {
		return strings.Contains(tw.Body.String(), "Hel")
	}, time.Second, 5*time.Millisecond, "first chunk should reach the real writer before the upstream stream finishes")

	close(releaseRest)

	select {
	case info := <-resultCh:
		assert.True(t, info.Success)
		assert.Equal(t, "only", info.EndpointID)
		assert.GreaterOrEqual(t, tw.writes, 2)
		assert.Contains(t, tw.Body.String(), "[DONE]")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete after releasing the rest of the stream")
	}
}

func TestPriority_RetriesOn429(t *testing.T) {
	rateLimited := &fakeDispatcher{id: "rl", statusCode: 429}
	ok := &fakeDispatcher{id: "ok", statusCode: 200}
	sel := NewPriority([][]endpoint.Dispatcher{{rateLimited, ok}})

	seenOK := false
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})
		if info.Success {
			seenOK = true
		}
	}
	assert.True(t, seenOK)
}

func TestLowestLatency_PrefersUnsampledOverSampled(t *testing.T) {
	tr := latency.New()
	sampled := &fakeDispatcher{id: "sampled", statusCode: 200}
	fresh := &fakeDispatcher{id: "fresh", statusCode: 200}
	tr.Observe("sampled", 5*time.Millisecond)

	sel := NewLowestLatency([]endpoint.Dispatcher{sampled, fresh}, tr)
	rec := httptest.NewRecorder()
	info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})
	assert.Equal(t, "fresh", info.EndpointID)
}

func TestLowestLatency_PicksLowerEWMA(t *testing.T) {
	tr := latency.New()
	a := &fakeDispatcher{id: "a", statusCode: 200}
	b := &fakeDispatcher{id: "b", statusCode: 200}
	tr.Observe("a", 100*time.Millisecond)
	tr.Observe("b", 10*time.Millisecond)

	sel := NewLowestLatency([]endpoint.Dispatcher{a, b}, tr)
	rec := httptest.NewRecorder()
	info := sel.Dispatch(context.Background(), rec, req(), &calldetails.CallDetails{})
	assert.Equal(t, "b", info.EndpointID)
}

func TestHierarchical_FlattenRecursesThroughChildren(t *testing.T) {
	a := &fakeDispatcher{id: "a", statusCode: 200}
	b := &fakeDispatcher{id: "b", statusCode: 200}
	inner := NewRandom([]endpoint.Dispatcher{a, b})
	sel := NewHierarchical([]Selector{inner})

	assert.Len(t, sel.Flatten(), 2)
}

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(consumerID, assistantID string) (string, bool) {
	v, ok := m.data[consumerID+"|"+assistantID]
	return v, ok
}
func (m *memStore) Set(consumerID, assistantID, endpointID string, _ time.Duration) {
	m.data[consumerID+"|"+assistantID] = endpointID
}

func TestAffinity_PreferredHeaderRoutesDirectly(t *testing.T) {
	a := &fakeDispatcher{id: "a", statusCode: 200}
	b := &fakeDispatcher{id: "b", statusCode: 200}
	inner := NewRandom([]endpoint.Dispatcher{a, b})
	sel := NewAffinity(inner, newMemStore(), time.Minute)

	rec := httptest.NewRecorder()
	cd := &calldetails.CallDetails{PreferredEndpointID: "b"}
	info := sel.Dispatch(context.Background(), rec, req(), cd)
	assert.Equal(t, "b", info.EndpointID)
}

func TestAffinity_RecordsStickinessAfterAssistantCreation(t *testing.T) {
	a := &fakeDispatcher{id: "a", statusCode: 200, body: `{"id":"asst-1"}`}
	inner := NewRandom([]endpoint.Dispatcher{a})
	store := newMemStore()
	sel := NewAffinity(inner, store, time.Minute)

	rec := httptest.NewRecorder()
	cd := &calldetails.CallDetails{CallKind: calldetails.CallKindAssistantControl, ConsumerID: "c1"}
	info := sel.Dispatch(context.Background(), rec, req(), cd)
	require.True(t, info.Success)

	id, ok := store.Get("c1", "asst-1")
	assert.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, "a", rec.Header().Get(AffinityHeader))
}
