package engine

import "sync"

// LearnedMap remembers, per stage, which source produced the code that last
// advanced the page. It only ever reorders the source race; every candidate
// is still validated and every submit still confirmed.
type LearnedMap struct {
	mu      sync.RWMutex
	methods map[int]Source
}

// NewLearnedMap copies initial into a fresh map. A nil map is fine.
func NewLearnedMap(initial map[int]Source) *LearnedMap {
	m := &LearnedMap{methods: make(map[int]Source, len(initial))}
	for stage, src := range initial {
		if src != SourceUnknown {
			m.methods[stage] = src
		}
	}
	return m
}

// Preferred returns the learned source for stage.
func (m *LearnedMap) Preferred(stage int) (Source, bool) {
	if m == nil {
		return SourceUnknown, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.methods[stage]
	return src, ok
}

// Record stores src as the winner for stage.
func (m *LearnedMap) Record(stage int, src Source) {
	if m == nil || src == SourceUnknown {
		return
	}
	m.mu.Lock()
	m.methods[stage] = src
	m.mu.Unlock()
}

// Snapshot returns a copy of the current entries.
func (m *LearnedMap) Snapshot() map[int]Source {
	if m == nil {
		return map[int]Source{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]Source, len(m.methods))
	for k, v := range m.methods {
		out[k] = v
	}
	return out
}

// Len is the number of learned stages.
func (m *LearnedMap) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.methods)
}
