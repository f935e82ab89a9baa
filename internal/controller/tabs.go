package controller

import (
	"sync"
	"time"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
)

// Observation is the controller's live record of one tab, created on
// the first observer report and dropped when the tab closes.
type Observation struct {
	TabID      int
	Site       siteprofile.Tag
	URL        string
	Capable    bool
	Active     bool
	LastReport time.Time
}

type tabRegistry struct {
	mu    sync.Mutex
	tabs  map[int]Observation
	clock func() time.Time
}

func newTabRegistry() *tabRegistry {
	return &tabRegistry{tabs: make(map[int]Observation), clock: time.Now}
}

// Update applies a detection report and returns the updated record.
// A report with Closed set drops the tab instead.
func (r *tabRegistry) Update(d protocol.Detection) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Closed {
		delete(r.tabs, d.TabID)
		return Observation{}, false
	}
	obs := Observation{
		TabID:      d.TabID,
		Site:       siteprofile.Tag(d.Site),
		URL:        d.URL,
		Capable:    d.Capable,
		Active:     d.Active,
		LastReport: r.clock(),
	}
	r.tabs[d.TabID] = obs
	return obs, true
}

// Get returns the observation for a tab, if any.
func (r *tabRegistry) Get(tabID int) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.tabs[tabID]
	return obs, ok
}

// Len reports how many tabs are currently tracked.
func (r *tabRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}
