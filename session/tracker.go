package session

import (
	"fmt"
	"sync"

	"vidfetch/internal"
)

// progressTracker is the only writer of a running session's progress entry.
// Percentages never move backwards and stay below 100 until completion.
type progressTracker struct {
	mu         sync.Mutex
	store      *ProgressStore
	id         string
	last       int
	lastStatus string
}

func newProgressTracker(store *ProgressStore, id string) *progressTracker {
	return &progressTracker{store: store, id: id}
}

// observe is handed to resolvers as their ProgressFunc
func (p *progressTracker) observe(done, total int64) {
	if total <= 0 {
		p.set(-1, "Downloading...")
		return
	}
	if done < 0 {
		done = 0
	}
	pct := int(done * 100 / total)
	if pct > 99 {
		pct = 99
	}
	p.mu.Lock()
	if pct < p.last {
		pct = p.last
	}
	p.mu.Unlock()
	p.set(pct, fmt.Sprintf("Downloading... %d%%", pct))
}

func (p *progressTracker) status(status string) {
	p.set(-1, status)
}

// set records pct (or keeps the current value when pct is lower) with status
func (p *progressTracker) set(pct int, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pct < p.last {
		pct = p.last
	}
	if pct == p.last && status == p.lastStatus {
		return
	}
	if err := p.store.Set(p.id, internal.ProgressState{
		Progress: pct,
		Status:   status,
		State:    internal.StateRunning,
	}); err != nil {
		internal.ForSession(p.id).Debug("progress update dropped: %v", err)
		return
	}
	p.last = pct
	p.lastStatus = status
}
