package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidfetch/internal"
)

type fetchFunc func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error)

// fakeResolver lets each test script the download
type fakeResolver struct {
	fetch fetchFunc
}

func (f *fakeResolver) List(ctx context.Context, url string) (*internal.MediaInfo, error) {
	return &internal.MediaInfo{Title: "fake"}, nil
}

func (f *fakeResolver) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	return f.fetch(ctx, req, progress)
}

func writeArtifact(t *testing.T, req internal.FetchRequest, data []byte) *internal.FetchResult {
	t.Helper()
	path := filepath.Join(req.Dir, req.BaseName+".mp4")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Errorf("write artifact: %v", err)
	}
	return &internal.FetchResult{Path: path}
}

type testEnv struct {
	dir      string
	progress *ProgressStore
	registry *ArtifactRegistry
	orch     *Orchestrator
	reaper   *Reaper
	gate     *DeliveryGate
}

func newTestEnv(t *testing.T, fetch fetchFunc, opts Options, capacity int) *testEnv {
	t.Helper()
	if opts.StorageDir == "" {
		opts.StorageDir = t.TempDir()
	}
	if opts.MaxActive == 0 {
		opts.MaxActive = 4
	}

	progress := NewProgressStore()
	registry := NewArtifactRegistry(capacity)
	orch, err := NewOrchestrator(&fakeResolver{fetch: fetch}, progress, registry, opts)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	reaper := NewReaper(registry, progress, ReaperOptions{StorageDir: opts.StorageDir, Retention: time.Hour})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})

	return &testEnv{
		dir:      orch.StorageDir(),
		progress: progress,
		registry: registry,
		orch:     orch,
		reaper:   reaper,
		gate:     NewDeliveryGate(registry, reaper, 0),
	}
}

func (e *testEnv) wait(t *testing.T, id string) internal.ProgressState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.orch.Wait(ctx, id); err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	state, ok := e.progress.Get(id)
	if !ok {
		t.Fatalf("no progress entry for %s", id)
	}
	return state
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestOrchestrator_DownloadLifecycle(t *testing.T) {
	payload := bytes.Repeat([]byte("frame"), 1000)
	stepped := make(chan struct{})
	next := make(chan struct{})

	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		for _, done := range []int64{10, 40, 25, 80, 100} {
			progress(done, 100)
			stepped <- struct{}{}
			<-next
		}
		return writeArtifact(t, req, payload), nil
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	id, err := env.orch.Start("https://example.com/watch/1", "best", `My Clip: "Final"`)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatal("Start() returned empty id")
	}

	prev := 0
	for i := 0; i < 5; i++ {
		<-stepped
		state, _ := env.progress.Get(id)
		if state.State != internal.StateRunning {
			t.Fatalf("step %d: state = %s, want running", i, state.State)
		}
		if state.Progress < prev {
			t.Errorf("step %d: progress went back from %d to %d", i, prev, state.Progress)
		}
		if state.Progress > 99 {
			t.Errorf("step %d: running progress %d above 99", i, state.Progress)
		}
		prev = state.Progress
		next <- struct{}{}
	}
	if prev != 99 {
		t.Errorf("last running progress = %d, want 99", prev)
	}

	state := env.wait(t, id)
	if state.State != internal.StateCompleted || state.Progress != 100 || state.Status != "Download completed!" {
		t.Errorf("final state = %+v", state)
	}

	artifact, ok := env.registry.Get(id)
	if !ok {
		t.Fatal("artifact not registered")
	}
	if artifact.Filename != "My Clip_ _Final_.mp4" {
		t.Errorf("Filename = %q", artifact.Filename)
	}
	if artifact.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(payload))
	}
	if artifact.Kind != internal.KindVideoAudio {
		t.Errorf("Kind = %s", artifact.Kind)
	}
	if !strings.HasPrefix(artifact.Path, env.dir) || !strings.Contains(filepath.Base(artifact.Path), id) {
		t.Errorf("Path = %s, want inside %s and carrying the session id", artifact.Path, env.dir)
	}

	delivery, err := env.gate.Open(id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer delivery.Close()
	served, _ := io.ReadAll(delivery.File)
	if !bytes.Equal(served, payload) {
		t.Error("served bytes differ from the downloaded file")
	}
}

func TestOrchestrator_TitleFallsBackToResolver(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		result := writeArtifact(t, req, []byte("x"))
		result.Title = "Remote/Name"
		result.Kind = internal.KindAudioOnly
		return result, nil
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	id, err := env.orch.Start("https://example.com/a", "audio", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.wait(t, id)

	artifact, _ := env.registry.Get(id)
	if artifact.Filename != "Remote_Name.mp4" || artifact.Title != "Remote/Name" {
		t.Errorf("artifact = %+v", artifact)
	}
	if artifact.Kind != internal.KindAudioOnly {
		t.Errorf("Kind = %s, want resolver-reported kind", artifact.Kind)
	}
}

func TestOrchestrator_FailureCleansUp(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		progress(30, 100)
		os.WriteFile(filepath.Join(req.Dir, req.BaseName+".mp4.part"), []byte("partial"), 0644)
		return nil, internal.NewFetchError(internal.KindNetwork, "connection reset")
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	id, err := env.orch.Start("https://example.com/b", "best", "clip")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state := env.wait(t, id)
	if state.State != internal.StateFailed || state.Status != "Download failed" {
		t.Errorf("state = %+v, want failed", state)
	}
	if !strings.Contains(state.Error, "connection reset") {
		t.Errorf("Error = %q", state.Error)
	}
	if state.Progress != 30 {
		t.Errorf("Progress = %d, want last value 30", state.Progress)
	}
	if names := dirEntries(t, env.dir); len(names) != 0 {
		t.Errorf("partial files left behind: %v", names)
	}
	if env.registry.Len() != 0 {
		t.Error("failed session must not register an artifact")
	}
	if _, err := env.gate.Open(id); !internal.IsNotFound(err) {
		t.Errorf("Open() error = %v, want not found", err)
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, fetch, Options{FetchTimeout: 50 * time.Millisecond}, 0)

	id, err := env.orch.Start("https://example.com/slow", "best", "slow")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state := env.wait(t, id)
	if state.State != internal.StateFailed || !strings.Contains(state.Error, "timed out") {
		t.Errorf("state = %+v, want timeout failure", state)
	}
}

func TestOrchestrator_Capacity(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		<-release
		return writeArtifact(t, req, []byte("x")), nil
	}
	env := newTestEnv(t, fetch, Options{MaxActive: 1}, 0)

	first, err := env.orch.Start("https://example.com/1", "best", "one")
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	_, err = env.orch.Start("https://example.com/2", "best", "two")
	if err == nil {
		t.Fatal("second Start() should be refused while the slot is taken")
	}
	if status := internal.HTTPStatus(err); status != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus() = %d, want 503", status)
	}
	if env.progress.Len() != 1 {
		t.Errorf("refused start created a progress entry")
	}

	close(release)
	env.wait(t, first)

	third, err := env.orch.Start("https://example.com/3", "best", "three")
	if err != nil {
		t.Fatalf("Start() after slot release error = %v", err)
	}
	env.wait(t, third)
}

func TestOrchestrator_Validation(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		t.Error("fetch must not run for invalid input")
		return nil, nil
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	tests := []struct {
		name   string
		url    string
		format string
	}{
		{"empty_url", "", "best"},
		{"bad_scheme", "ftp://example.com/a.mp4", "best"},
		{"no_host", "https:///path", "best"},
		{"bad_format", "https://example.com/a", "best; rm -rf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.Start(tt.url, tt.format, "")
			if !internal.IsValidation(err) {
				t.Errorf("Start() error = %v, want validation error", err)
			}
		})
	}
	if env.progress.Len() != 0 {
		t.Error("rejected requests must not create sessions")
	}
}

func TestOrchestrator_PanicBecomesFailure(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		panic("boom")
	}
	env := newTestEnv(t, fetch, Options{MaxActive: 1}, 0)

	id, err := env.orch.Start("https://example.com/p", "best", "p")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state := env.wait(t, id)
	if state.State != internal.StateFailed || !strings.Contains(state.Error, "internal error") {
		t.Errorf("state = %+v", state)
	}
	if env.orch.Active() != 0 {
		t.Error("slot not released after panic")
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	started := make(chan struct{})
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	id, err := env.orch.Start("https://example.com/c", "best", "c")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started

	if err := env.orch.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	state := env.wait(t, id)
	if state.State != internal.StateFailed || !strings.Contains(state.Error, "cancelled") {
		t.Errorf("state = %+v, want cancelled failure", state)
	}

	if err := env.orch.Cancel(id); !internal.IsNotFound(err) {
		t.Errorf("Cancel() on finished session = %v, want not found", err)
	}
	if err := env.orch.Cancel("unknown"); !internal.IsNotFound(err) {
		t.Errorf("Cancel(unknown) = %v, want not found", err)
	}
}

func TestOrchestrator_RegistryFull(t *testing.T) {
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		return writeArtifact(t, req, []byte("x")), nil
	}
	env := newTestEnv(t, fetch, Options{}, 1)

	first, _ := env.orch.Start("https://example.com/1", "best", "one")
	if state := env.wait(t, first); state.State != internal.StateCompleted {
		t.Fatalf("first session = %+v", state)
	}

	second, _ := env.orch.Start("https://example.com/2", "best", "two")
	state := env.wait(t, second)
	if state.State != internal.StateFailed || !strings.Contains(state.Error, "registry is full") {
		t.Errorf("second session = %+v, want registry-full failure", state)
	}
	if names := dirEntries(t, env.dir); len(names) != 1 {
		t.Errorf("files on disk = %v, want only the first artifact", names)
	}
}

func TestOrchestrator_CloseRefusesNewSessions(t *testing.T) {
	started := make(chan struct{})
	fetch := func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, fetch, Options{}, 0)

	id, _ := env.orch.Start("https://example.com/1", "best", "one")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.orch.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	state, _ := env.progress.Get(id)
	if state.State != internal.StateFailed || !strings.Contains(state.Error, "shutting down") {
		t.Errorf("running session after Close = %+v", state)
	}

	if _, err := env.orch.Start("https://example.com/2", "best", "two"); internal.HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Errorf("Start() after Close = %v, want orchestration error", err)
	}
}
