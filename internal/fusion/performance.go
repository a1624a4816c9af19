package fusion

import (
	"math"
	"sync"
)

// defaultAgentWeight applies to agent classes with no recorded history.
const defaultAgentWeight = 0.5

// PerformanceTracker keeps a bounded accuracy history per agent class
// for the bayesian policy. Recent outcomes dominate the weight through
// exponential decay.
type PerformanceTracker struct {
	window  int
	mu      sync.RWMutex
	history map[string][]float64
}

// NewPerformanceTracker creates a tracker bounded to window entries per
// agent class.
func NewPerformanceTracker(window int) *PerformanceTracker {
	if window <= 0 {
		window = 100
	}
	return &PerformanceTracker{
		window:  window,
		history: make(map[string][]float64),
	}
}

// Update appends an accuracy observation for the agent class, dropping
// the oldest entry once the window is full.
func (t *PerformanceTracker) Update(agentType string, accuracy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[agentType], accuracy)
	if len(h) > t.window {
		h = h[len(h)-t.window:]
	}
	t.history[agentType] = h
}

// Weight returns the exponentially decayed weighted mean accuracy for
// the agent class. Classes without history get the neutral default.
func (t *PerformanceTracker) Weight(agentType string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history[agentType]
	n := len(h)
	if n == 0 {
		return defaultAgentWeight
	}

	// Decay weights span exp(-1)..exp(0) from oldest to newest.
	var weightSum, weighted float64
	for i, accuracy := range h {
		x := -1.0
		if n > 1 {
			x = -1.0 + float64(i)/float64(n-1)
		}
		w := math.Exp(x)
		weightSum += w
		weighted += w * accuracy
	}
	return weighted / weightSum
}

// Snapshot copies the full history for durable state saves.
func (t *PerformanceTracker) Snapshot() map[string][]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]float64, len(t.history))
	for agentType, h := range t.history {
		out[agentType] = append([]float64(nil), h...)
	}
	return out
}

// Restore replaces the history, trimming each class to the window.
// Used when a worker reloads its state blob on boot.
func (t *PerformanceTracker) Restore(history map[string][]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = make(map[string][]float64, len(history))
	for agentType, h := range history {
		if len(h) > t.window {
			h = h[len(h)-t.window:]
		}
		t.history[agentType] = append([]float64(nil), h...)
	}
}
