package session

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"vidfetch/internal"
)

// Delivery is an artifact opened for streaming. The caller closes it.
type Delivery struct {
	File     *os.File
	Artifact internal.Artifact
	ModTime  time.Time
}

// Close releases the file handle
func (d *Delivery) Close() error {
	return d.File.Close()
}

// DeliveryGate serves completed artifacts. Every Open re-checks both the
// registry and the disk, so an artifact is never served after its purge.
type DeliveryGate struct {
	registry *ArtifactRegistry
	reaper   *Reaper
	grace    time.Duration
}

// NewDeliveryGate creates a gate. After a successful Open the artifact is
// scheduled for deletion grace later; a zero grace leaves the retention
// deadline untouched.
func NewDeliveryGate(registry *ArtifactRegistry, reaper *Reaper, grace time.Duration) *DeliveryGate {
	return &DeliveryGate{registry: registry, reaper: reaper, grace: grace}
}

// Open returns the artifact for id ready to stream, or a not-found error when
// the session is unknown, not completed, expired or its file vanished.
func (g *DeliveryGate) Open(id string) (*Delivery, error) {
	artifact, ok := g.registry.Get(id)
	if !ok {
		return nil, internal.NewNotFoundError("File not found").WithContext("session", id)
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			internal.ForSession(id).Warn("artifact missing on disk, dropping entry")
			g.reaper.Purge(id)
			return nil, internal.NewNotFoundError("File not found on disk").WithContext("session", id)
		}
		return nil, internal.NewFetchError(internal.KindStorage, "cannot open artifact").
			WithContext("session", id).
			WithCause(err)
	}

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		file.Close()
		return nil, internal.NewNotFoundError("File not found on disk").WithContext("session", id)
	}
	artifact.Size = info.Size()

	if g.grace > 0 {
		g.reaper.Expedite(id, g.grace)
	}

	return &Delivery{File: file, Artifact: artifact, ModTime: info.ModTime()}, nil
}
