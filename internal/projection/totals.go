// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"strings"
	"sync"
)

// TotalStates caches how many states each capability's journey has. It is
// not persisted: after a restart it holds only what it was seeded with, and
// capabilities without an entry fold with progress 0.
type TotalStates struct {
	mu     sync.RWMutex
	totals map[string]int
}

func NewTotalStates(seed map[string]int) *TotalStates {
	ts := &TotalStates{totals: make(map[string]int, len(seed))}
	for capabilityID, total := range seed {
		ts.Set(capabilityID, total)
	}
	return ts
}

// Set records total for capabilityID. A non-positive total forgets it.
func (ts *TotalStates) Set(capabilityID string, total int) {
	capabilityID = strings.TrimSpace(capabilityID)
	if capabilityID == "" {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if total <= 0 {
		delete(ts.totals, capabilityID)
		return
	}
	ts.totals[capabilityID] = total
}

// Get returns 0 for unknown capabilities.
func (ts *TotalStates) Get(capabilityID string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.totals[capabilityID]
}

func (ts *TotalStates) Snapshot() map[string]int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[string]int, len(ts.totals))
	for k, v := range ts.totals {
		out[k] = v
	}
	return out
}
