package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidfetch/internal"
	"vidfetch/utils"
)

// ReaperOptions configures a Reaper
type ReaperOptions struct {
	StorageDir    string
	Retention     time.Duration
	SweepInterval time.Duration
}

// Reaper deletes artifacts once their deadline passed and drops stale
// progress entries. Every artifact is purged no later than one sweep
// interval after its deadline.
type Reaper struct {
	registry *ArtifactRegistry
	progress *ProgressStore
	fileOps  *utils.FileOperations
	opts     ReaperOptions
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewReaper creates a reaper over the given stores
func NewReaper(registry *ArtifactRegistry, progress *ProgressStore, opts ReaperOptions) *Reaper {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	if opts.StorageDir != "" {
		if abs, err := filepath.Abs(opts.StorageDir); err == nil {
			opts.StorageDir = abs
		}
	}
	return &Reaper{
		registry: registry,
		progress: progress,
		fileOps:  utils.NewFileOperations(),
		opts:     opts,
		now:      time.Now,
	}
}

// Start runs the orphan sweep once and then sweeps periodically until ctx is
// done or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})
	stopped := r.stopped
	r.mu.Unlock()

	r.SweepOrphans()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop ends the periodic sweep and waits for it to exit
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Sweep purges every artifact whose deadline passed and every finished
// session without an artifact older than the retention period. It returns
// the number of sessions purged.
func (r *Reaper) Sweep() int {
	now := r.now()
	purged := 0

	for _, id := range r.registry.Due(now) {
		if r.Purge(id) {
			purged++
		}
	}

	cutoff := now.Add(-r.opts.Retention)
	for id, state := range r.progress.Snapshot() {
		if !state.State.Terminal() || state.UpdatedAt.After(cutoff) {
			continue
		}
		if _, ok := r.registry.Get(id); ok {
			continue
		}
		r.progress.Remove(id)
		purged++
	}

	if purged > 0 {
		internal.LogInfo("Retention sweep purged %d session(s)", purged)
	}
	return purged
}

// Purge removes the artifact and progress entry of id in one step. It
// reports whether an artifact was removed.
func (r *Reaper) Purge(id string) bool {
	removed := r.registry.Remove(id)
	r.progress.Remove(id)
	if removed {
		internal.ForSession(id).Debug("purged")
	}
	return removed
}

// Expedite schedules id for deletion delay from now unless it is already
// due earlier. With a zero delay the artifact is purged immediately.
func (r *Reaper) Expedite(id string, delay time.Duration) bool {
	if delay <= 0 {
		return r.Purge(id)
	}
	return r.registry.Expire(id, r.now().Add(delay))
}

// SweepOrphans deletes files in the storage directory that are older than
// the retention period and belong to no registered artifact. Failures are
// logged and skipped.
func (r *Reaper) SweepOrphans() int {
	if r.opts.StorageDir == "" {
		return 0
	}
	stale, err := r.fileOps.StaleFiles(r.opts.StorageDir, r.now().Add(-r.opts.Retention))
	if err != nil {
		internal.LogWarn("Orphan sweep skipped: %v", err)
		return 0
	}

	removed := 0
	for _, path := range stale {
		if r.registry.HasPath(path) || strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		ok, err := r.fileOps.RemoveIfExists(path)
		if err != nil {
			internal.LogError("Error deleting old file %s: %v", path, err)
			continue
		}
		if ok {
			removed++
			internal.LogInfo("Cleaned up old file: %s", path)
		}
	}
	return removed
}

