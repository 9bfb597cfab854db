package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aicentral/gateway/internal/calldetails"
)

func TestNewOpenAIDispatcher_MaxConcurrencyBoundsInFlightCalls(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	desc := &Descriptor{ID: "openai-bounded", Kind: KindOpenAI, BaseURL: upstream.URL, BearerKey: "sk-test", MaxConcurrency: 2}
	d := NewOpenAIDispatcher(desc, testDeps())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cd := &calldetails.CallDetails{RemainingPath: "embeddings", RawBody: []byte(`{}`)}
			rec := httptest.NewRecorder()
			d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen.Load()), 2)
}
