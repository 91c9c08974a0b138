package session

import (
	"sync"
	"time"

	"vidfetch/internal"
	"vidfetch/utils"
)

// ArtifactRegistry maps session ids to completed files on disk. An entry and
// its file are removed together, by whichever caller wins Remove.
type ArtifactRegistry struct {
	mu       sync.RWMutex
	items    map[string]internal.Artifact
	paths    map[string]string
	capacity int
	fileOps  *utils.FileOperations
}

// NewArtifactRegistry creates a registry holding at most capacity artifacts.
// A capacity of 0 means unlimited.
func NewArtifactRegistry(capacity int) *ArtifactRegistry {
	return &ArtifactRegistry{
		items:    make(map[string]internal.Artifact),
		paths:    make(map[string]string),
		capacity: capacity,
		fileOps:  utils.NewFileOperations(),
	}
}

// Put registers artifact under id. A duplicate id or a full registry is an
// error; in the full case the offered file is deleted so it cannot leak.
func (r *ArtifactRegistry) Put(id string, artifact internal.Artifact) error {
	r.mu.Lock()
	if existing, ok := r.items[id]; ok {
		r.mu.Unlock()
		if existing.Path != artifact.Path {
			r.removeFile(id, artifact.Path)
		}
		return internal.NewOrchestrationError("artifact already registered for session").
			WithContext("session", id)
	}
	if r.capacity > 0 && len(r.items) >= r.capacity {
		r.mu.Unlock()
		r.removeFile(id, artifact.Path)
		return internal.NewFetchError(internal.KindStorage, "artifact registry is full").
			WithContext("capacity", r.capacity).
			WithSuggestion("Wait for older downloads to expire or raise max_artifacts")
	}

	artifact.SessionID = id
	r.items[id] = artifact
	r.paths[artifact.Path] = id
	r.mu.Unlock()
	return nil
}

// Get returns the artifact for id
func (r *ArtifactRegistry) Get(id string) (internal.Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.items[id]
	return artifact, ok
}

// HasPath reports whether a registered artifact owns path
func (r *ArtifactRegistry) HasPath(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paths[path]
	return ok
}

// Expire moves the deadline of id to at if that is earlier than the current
// one. It reports whether the entry exists.
func (r *ArtifactRegistry) Expire(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, ok := r.items[id]
	if !ok {
		return false
	}
	if at.Before(artifact.ExpiresAt) {
		artifact.ExpiresAt = at
		r.items[id] = artifact
	}
	return true
}

// Remove deletes the entry for id and then its file. Only the caller that
// actually removed the entry touches the file, so concurrent calls are safe.
func (r *ArtifactRegistry) Remove(id string) bool {
	r.mu.Lock()
	artifact, ok := r.items[id]
	if ok {
		delete(r.items, id)
		delete(r.paths, artifact.Path)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.removeFile(id, artifact.Path)
	return true
}

func (r *ArtifactRegistry) removeFile(id, path string) {
	if path == "" {
		return
	}
	removed, err := r.fileOps.RemoveIfExists(path)
	switch {
	case err != nil:
		internal.ForSession(id).Error("failed to delete %s: %v", path, err)
	case removed:
		internal.ForSession(id).Info("deleted file: %s", path)
	default:
		internal.ForSession(id).Debug("file already gone: %s", path)
	}
}

// Due returns the ids of artifacts whose deadline is not after now
func (r *ArtifactRegistry) Due(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, artifact := range r.items {
		if !artifact.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns a copy of all artifacts
func (r *ArtifactRegistry) Snapshot() []internal.Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]internal.Artifact, 0, len(r.items))
	for _, artifact := range r.items {
		out = append(out, artifact)
	}
	return out
}

// Len returns the number of registered artifacts
func (r *ArtifactRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
