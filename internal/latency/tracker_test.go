package latency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_SampleEmptyBeforeAnyObservation(t *testing.T) {
	tr := New()
	_, ok := tr.Sample("ep-a")
	assert.False(t, ok)
}

func TestTracker_ObserveUpdatesEWMATowardNewSample(t *testing.T) {
	tr := NewWithAlpha(0.5)
	tr.Observe("ep-a", 100*time.Millisecond)
	first, ok := tr.Sample("ep-a")
	assert.True(t, ok)
	assert.InDelta(t, 100, first, 0.001)

	tr.Observe("ep-a", 300*time.Millisecond)
	second, _ := tr.Sample("ep-a")
	assert.InDelta(t, 200, second, 0.001) // 0.5*300 + 0.5*100
}

func TestTracker_IndependentPerEndpoint(t *testing.T) {
	tr := New()
	tr.Observe("ep-a", 10*time.Millisecond)
	_, ok := tr.Sample("ep-b")
	assert.False(t, ok)
}

func TestTracker_ConcurrentObserveDoesNotRace(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Observe("ep-a", 5*time.Millisecond)
		}()
	}
	wg.Wait()
	v, ok := tr.Sample("ep-a")
	assert.True(t, ok)
	assert.Greater(t, v, 0.0)
}
