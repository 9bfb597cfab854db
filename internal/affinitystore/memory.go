// Package affinitystore implements selector.AffinityStore: the
// (consumerId, assistantId) -> endpointId sticky-routing table the affinity
// selector consults and updates (spec §4.3). Memory is the default;
// Durable persists the same table to sqlite so stickiness survives a
// process restart (§11 domain stack).
package affinitystore

import (
	"sync"
	"time"
)

type entry struct {
	endpointID string
	expiresAt  time.Time
}

// Memory is an in-process, TTL-expiring affinity table. It is the default
// store an affinity selector gets unless its durable_path selects Durable.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory builds an empty in-memory affinity store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) Get(consumerID, assistantID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key(consumerID, assistantID)]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key(consumerID, assistantID))
		return "", false
	}
	return e.endpointID, true
}

func (m *Memory) Set(consumerID, assistantID, endpointID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(consumerID, assistantID)] = entry{endpointID: endpointID, expiresAt: time.Now().Add(ttl)}
}

// Size reports the number of entries currently held, including ones past
// their TTL that haven't been lazily swept yet. internal/dashboard uses
// this for the "affinity-table size" panel.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func key(consumerID, assistantID string) string {
	return consumerID + "|" + assistantID
}
