package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidfetch/internal"
)

// stubStrategy is a scripted internal.Strategy
type stubStrategy struct {
	name     string
	supports bool
	info     *internal.MediaInfo
	err      error
	calls    int
	partial  bool
}

func (s *stubStrategy) Name() string             { return s.name }
func (s *stubStrategy) Supports(url string) bool { return s.supports }

func (s *stubStrategy) List(ctx context.Context, url string) (*internal.MediaInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func (s *stubStrategy) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	s.calls++
	if s.partial {
		os.WriteFile(filepath.Join(req.Dir, req.BaseName+".mp4.part"), []byte("partial"), 0644)
	}
	if s.err != nil {
		return nil, s.err
	}
	path := filepath.Join(req.Dir, req.BaseName+".mp4")
	os.WriteFile(path, []byte("ok"), 0644)
	return &internal.FetchResult{Path: path, Title: s.name}, nil
}

func TestChain_ListFirstSuccessWins(t *testing.T) {
	skipped := &stubStrategy{name: "skipped", supports: false}
	failing := &stubStrategy{name: "failing", supports: true, err: errors.New("nope")}
	winner := &stubStrategy{name: "winner", supports: true, info: &internal.MediaInfo{Title: "Clip"}}
	never := &stubStrategy{name: "never", supports: true, info: &internal.MediaInfo{Title: "Other"}}

	chain := NewChain(0, skipped, failing, winner, never)
	info, err := chain.List(context.Background(), "https://www.youtube.com/watch?v=abcdefghijk")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if info.Title != "Clip" {
		t.Errorf("Title = %q, want Clip", info.Title)
	}
	if info.Platform != "youtube" {
		t.Errorf("Platform = %q, want youtube", info.Platform)
	}
	if skipped.calls != 0 || failing.calls != 1 || never.calls != 0 {
		t.Errorf("calls: skipped=%d failing=%d never=%d", skipped.calls, failing.calls, never.calls)
	}
}

func TestChain_ListAllFail(t *testing.T) {
	chain := NewChain(0,
		&stubStrategy{name: "a", supports: true, err: errors.New("first broke")},
		&stubStrategy{name: "b", supports: true, err: errors.New("second broke")},
	)

	_, err := chain.List(context.Background(), "https://example.com/page")
	me, ok := internal.AsMediaError(err)
	if !ok || me.Type != internal.ErrResolution {
		t.Fatalf("List() error = %v, want resolution error", err)
	}
	for _, want := range []string{"a: first broke", "b: second broke"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestChain_ListRejectsInvalidURL(t *testing.T) {
	stub := &stubStrategy{name: "a", supports: true}
	chain := NewChain(0, stub)

	if _, err := chain.List(context.Background(), "not a url"); !internal.IsValidation(err) {
		t.Errorf("List() error = %v, want validation error", err)
	}
	if stub.calls != 0 {
		t.Error("strategies must not run for invalid URLs")
	}
}

func TestChain_ListNoStrategy(t *testing.T) {
	chain := NewChain(0, &stubStrategy{name: "a", supports: false})
	_, err := chain.List(context.Background(), "https://example.com/page")
	if !strings.Contains(err.Error(), "no strategy supports") {
		t.Errorf("List() error = %v", err)
	}
}

// blockingStrategy waits for its context
type blockingStrategy struct{ stubStrategy }

func (b *blockingStrategy) List(ctx context.Context, url string) (*internal.MediaInfo, error) {
	b.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChain_ListTimeoutStopsChain(t *testing.T) {
	slow := &blockingStrategy{stubStrategy{name: "slow", supports: true}}
	after := &stubStrategy{name: "after", supports: true, info: &internal.MediaInfo{}}
	chain := NewChain(20*time.Millisecond, slow, after)

	_, err := chain.List(context.Background(), "https://example.com/page")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("List() error = %v, want timeout", err)
	}
	if after.calls != 0 {
		t.Error("chain should stop once the deadline passed")
	}
}

func TestChain_FetchFallsThroughAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	failing := &stubStrategy{name: "failing", supports: true, partial: true, err: internal.NewFetchError(internal.KindNetwork, "reset")}
	winner := &stubStrategy{name: "winner", supports: true}
	chain := NewChain(0, failing, winner)

	req := internal.FetchRequest{URL: "https://example.com/page", Selector: internal.SelectorBest, Dir: dir, BaseName: "clip_123"}
	result, err := chain.Fetch(context.Background(), req, func(done, total int64) {})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Title != "winner" {
		t.Errorf("result from %q, want winner", result.Title)
	}
	if _, err := os.Stat(filepath.Join(dir, "clip_123.mp4.part")); !os.IsNotExist(err) {
		t.Error("partial file of the failed strategy should be removed")
	}
}

func TestChain_FetchAllFail(t *testing.T) {
	chain := NewChain(0,
		&stubStrategy{name: "a", supports: true, err: internal.NewFetchError(internal.KindNetwork, "reset")},
		&stubStrategy{name: "b", supports: true, err: internal.NewFetchError(internal.KindNotFound, "gone")},
	)

	req := internal.FetchRequest{URL: "https://example.com/page", Dir: t.TempDir(), BaseName: "x"}
	_, err := chain.Fetch(context.Background(), req, func(done, total int64) {})
	if internal.KindOf(err) != internal.KindNotFound {
		t.Errorf("kind = %v, want kind of the last failure", internal.KindOf(err))
	}
	if strings.Contains(err.Error(), "\n") {
		t.Errorf("error should fit on one line: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "a: reset") || !strings.Contains(err.Error(), "b: gone") {
		t.Errorf("error = %q, want both failures", err.Error())
	}
}

func TestChain_FetchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubStrategy{name: "first", supports: true, err: context.Canceled}
	second := &stubStrategy{name: "second", supports: true}
	cancel()

	chain := NewChain(0, first, second)
	req := internal.FetchRequest{URL: "https://example.com/page", Dir: t.TempDir(), BaseName: "x"}
	if _, err := chain.Fetch(ctx, req, func(done, total int64) {}); err == nil {
		t.Fatal("Fetch() should fail when cancelled")
	}
	if second.calls != 0 {
		t.Error("chain should stop after cancellation")
	}
}
