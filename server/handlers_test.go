package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidfetch/internal"
	"vidfetch/session"
)

type fakeResolver struct {
	info    *internal.MediaInfo
	listErr error
	fetch   func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error)
}

func (f *fakeResolver) List(ctx context.Context, url string) (*internal.MediaInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.info, nil
}

func (f *fakeResolver) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	return f.fetch(ctx, req, progress)
}

// writeMP4 is a fetch that stores payload as Dir/BaseName.mp4
func writeMP4(payload []byte) func(context.Context, internal.FetchRequest, internal.ProgressFunc) (*internal.FetchResult, error) {
	return func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		path := filepath.Join(req.Dir, req.BaseName+".mp4")
		if err := os.WriteFile(path, payload, 0644); err != nil {
			return nil, err
		}
		progress(int64(len(payload)), int64(len(payload)))
		return &internal.FetchResult{Path: path, Title: "Remote"}, nil
	}
}

type testServer struct {
	*httptest.Server
	orch     *session.Orchestrator
	registry *session.ArtifactRegistry
}

func newTestServer(t *testing.T, resolver *fakeResolver, maxActive int) *testServer {
	t.Helper()
	cfg := internal.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.AllowedOrigins = []string{"https://app.example.com"}

	progress := session.NewProgressStore()
	registry := session.NewArtifactRegistry(16)
	orch, err := session.NewOrchestrator(resolver, progress, registry, session.Options{
		StorageDir: cfg.StorageDir,
		Retention:  time.Hour,
		MaxActive:  maxActive,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	reaper := session.NewReaper(registry, progress, session.ReaperOptions{StorageDir: cfg.StorageDir, Retention: time.Hour})

	srv := New(cfg, Deps{
		Resolver:     resolver,
		Orchestrator: orch,
		Progress:     progress,
		Registry:     registry,
		Gate:         session.NewDeliveryGate(registry, reaper, 0),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})

	return &testServer{Server: ts, orch: orch, registry: registry}
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decode(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHandleInfo(t *testing.T) {
	resolver := &fakeResolver{info: &internal.MediaInfo{
		Title:    "Clip",
		Duration: 12,
		Formats:  []internal.Rendition{{FormatID: "18", Ext: "mp4", Height: 360, HasAudio: true}},
	}}
	ts := newTestServer(t, resolver, 2)

	resp, body := ts.post(t, "/api/info", `{"url":"https://example.com/v/1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["title"] != "Clip" {
		t.Errorf("title = %v", body["title"])
	}
	formats, _ := body["formats"].([]interface{})
	if len(formats) != 1 {
		t.Errorf("formats = %v", body["formats"])
	}
}

func TestHandleInfo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		listErr error
		want    int
		wantMsg string
	}{
		{"missing url", `{}`, nil, http.StatusBadRequest, "URL is required"},
		{"bad json", `{"url":`, nil, http.StatusBadRequest, "Invalid JSON body"},
		{"resolution failure", `{"url":"https://example.com/x"}`,
			internal.NewResolutionError("https://example.com/x", errors.New("no formats")), http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeResolver{listErr: tt.listErr}, 2)
			resp, body := ts.post(t, "/api/info", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			msg, _ := body["error"].(string)
			if msg == "" || (tt.wantMsg != "" && msg != tt.wantMsg) {
				t.Errorf("error = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestDownloadLifecycle(t *testing.T) {
	payload := []byte("0123456789abcdef")
	ts := newTestServer(t, &fakeResolver{fetch: writeMP4(payload)}, 2)

	resp, body := ts.post(t, "/api/download", `{"url":"https://example.com/v/1","format":"best","title":"Holiday / Beach"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != "Download started" {
		t.Errorf("status text = %v", body["status"])
	}
	id, _ := body["download_id"].(string)
	if id == "" {
		t.Fatal("missing download_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.orch.Wait(ctx, id); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	resp, body = ts.get(t, "/api/progress/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d, body %v", resp.StatusCode, body)
	}
	if body["completed"] != true || body["progress"] != float64(100) {
		t.Errorf("progress = %v", body)
	}
	if body["filename"] != "Holiday _ Beach.mp4" {
		t.Errorf("filename = %v", body["filename"])
	}
	if body["file_size"] != float64(len(payload)) {
		t.Errorf("file_size = %v", body["file_size"])
	}

	fileResp, err := http.Get(ts.URL + "/api/file/" + id)
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		t.Fatalf("file status = %d", fileResp.StatusCode)
	}
	if cd := fileResp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "Holiday _ Beach.mp4") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := fileResp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(fileResp.Body)
	if string(data) != string(payload) {
		t.Errorf("body = %q", data)
	}
}

func TestHandleFile_Range(t *testing.T) {
	payload := []byte("0123456789")
	ts := newTestServer(t, &fakeResolver{fetch: writeMP4(payload)}, 2)

	_, body := ts.post(t, "/api/download", `{"url":"https://example.com/v/1"}`)
	id := body["download_id"].(string)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts.orch.Wait(ctx, id)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/file/"+id, nil)
	req.Header.Set("Range", "bytes=2-5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if data, _ := io.ReadAll(resp.Body); string(data) != "2345" {
		t.Errorf("range body = %q", data)
	}
}

func TestFailedDownloadReportsError(t *testing.T) {
	resolver := &fakeResolver{fetch: func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		return nil, internal.NewFetchError(internal.KindNotFound, "video removed")
	}}
	ts := newTestServer(t, resolver, 2)

	_, body := ts.post(t, "/api/download", `{"url":"https://example.com/v/1"}`)
	id := body["download_id"].(string)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts.orch.Wait(ctx, id)

	resp, body := ts.get(t, "/api/progress/"+id)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "video removed") {
		t.Errorf("error = %q", msg)
	}

	resp, body = ts.get(t, "/api/file/"+id)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "File not found" {
		t.Errorf("file: status %d body %v", resp.StatusCode, body)
	}
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, &fakeResolver{}, 2)

	resp, body := ts.get(t, "/api/progress/nope")
	if resp.StatusCode != http.StatusNotFound || body["error"] != "Download not found" {
		t.Errorf("progress: status %d body %v", resp.StatusCode, body)
	}

	resp, body = ts.get(t, "/api/file/nope")
	if resp.StatusCode != http.StatusNotFound || body["error"] != "File not found" {
		t.Errorf("file: status %d body %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/download/nope", nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", cancelResp.StatusCode)
	}
}

func TestDownloadValidation(t *testing.T) {
	ts := newTestServer(t, &fakeResolver{}, 2)
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"format":"best"}`},
		{"bad scheme", `{"url":"ftp://example.com/v.mp4"}`},
		{"bad format", `{"url":"https://example.com/v","format":"$(rm -rf)"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.post(t, "/api/download", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %v)", resp.StatusCode, body)
			}
		})
	}
}

func TestCancelAndCapacity(t *testing.T) {
	release := make(chan struct{})
	resolver := &fakeResolver{fetch: func(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return nil, errors.New("released")
		}
	}}
	defer close(release)
	ts := newTestServer(t, resolver, 1)

	_, body := ts.post(t, "/api/download", `{"url":"https://example.com/v/1"}`)
	id := body["download_id"].(string)

	resp, body := ts.post(t, "/api/download", `{"url":"https://example.com/v/2"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second download status = %d, want 503 (body %v)", resp.StatusCode, body)
	}

	_, health := ts.get(t, "/api/health")
	if health["status"] != "healthy" || health["active_downloads"] != float64(1) {
		t.Errorf("health = %v", health)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/download/"+id, nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d", cancelResp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts.orch.Wait(ctx, id)

	resp, body = ts.get(t, "/api/progress/"+id)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("progress status = %d, want 400", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "cancelled") {
		t.Errorf("error = %q", msg)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &fakeResolver{}, 1)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/download", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin got Allow-Origin %q", got)
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Internal server error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := internal.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := New(cfg, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
