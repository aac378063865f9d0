package service

import (
	"sync"
)

// stampedeTracker counts concurrent server-cache misses per key. When the
// count exceeds 1, multiple requests missed the same key simultaneously —
// the situation the coalescer exists to absorb — and a metric is emitted so
// coalescer effectiveness is observable.
type stampedeTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		activeMisses: make(map[string]int),
	}
}

// BeginMiss records a cache miss for key and returns the concurrent miss
// count after incrementing. Caller should defer EndMiss(key).
func (st *stampedeTracker) BeginMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activeMisses[key]++
	return st.activeMisses[key]
}

// EndMiss records completion of a miss for key.
func (st *stampedeTracker) EndMiss(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if count, ok := st.activeMisses[key]; ok && count > 0 {
		st.activeMisses[key]--
		if st.activeMisses[key] == 0 {
			delete(st.activeMisses, key)
		}
	}
}
