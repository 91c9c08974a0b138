package cmd

import (
	"context"
	"time"

	"vidfetch/internal"
	"vidfetch/resolver"
	"vidfetch/server"
	"vidfetch/session"
)

const closeTimeout = 30 * time.Second

// app holds the wired session components
type app struct {
	resolver *resolver.Chain
	progress *session.ProgressStore
	registry *session.ArtifactRegistry
	orch     *session.Orchestrator
	reaper   *session.Reaper
	gate     *session.DeliveryGate
}

func newApp(cfg *internal.Config) (*app, error) {
	chain, err := resolver.New(cfg)
	if err != nil {
		return nil, err
	}

	progress := session.NewProgressStore()
	registry := session.NewArtifactRegistry(cfg.MaxArtifacts)
	orch, err := session.NewOrchestrator(chain, progress, registry, session.Options{
		StorageDir:   cfg.StorageDir,
		Retention:    cfg.Retention,
		FetchTimeout: cfg.FetchTimeout,
		MaxActive:    cfg.MaxActiveDownloads,
	})
	if err != nil {
		return nil, err
	}

	reaper := session.NewReaper(registry, progress, session.ReaperOptions{
		StorageDir:    orch.StorageDir(),
		Retention:     cfg.Retention,
		SweepInterval: cfg.SweepInterval,
	})

	return &app{
		resolver: chain,
		progress: progress,
		registry: registry,
		orch:     orch,
		reaper:   reaper,
		gate:     session.NewDeliveryGate(registry, reaper, cfg.ServeGrace),
	}, nil
}

func (a *app) serverDeps() server.Deps {
	return server.Deps{
		Resolver:     a.resolver,
		Orchestrator: a.orch,
		Progress:     a.progress,
		Registry:     a.registry,
		Gate:         a.gate,
	}
}

// close cancels running sessions and stops the reaper
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := a.orch.Close(ctx); err != nil {
		internal.LogWarn("Sessions did not stop in time: %v", err)
	}
	a.reaper.Stop()
}
