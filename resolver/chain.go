package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidfetch/internal"
	"vidfetch/utils"
)

// Chain implements internal.Resolver over an ordered list of strategies.
// The first strategy that supports a URL and succeeds wins; failures fall
// through to the next one.
type Chain struct {
	strategies     []internal.Strategy
	resolveTimeout time.Duration
	validator      *utils.URLValidator
	fileOps        *utils.FileOperations
}

var _ internal.Resolver = (*Chain)(nil)

// NewChain creates a chain trying strategies in order. resolveTimeout bounds
// List; zero means no limit beyond the caller's context.
func NewChain(resolveTimeout time.Duration, strategies ...internal.Strategy) *Chain {
	return &Chain{
		strategies:     strategies,
		resolveTimeout: resolveTimeout,
		validator:      utils.NewURLValidator(),
		fileOps:        utils.NewFileOperations(),
	}
}

// Names returns the strategy names in trial order
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// List returns the renditions of url from the first strategy able to list it
func (c *Chain) List(ctx context.Context, url string) (*internal.MediaInfo, error) {
	if err := c.validator.ValidateURL(url); err != nil {
		return nil, err
	}
	if c.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.resolveTimeout)
		defer cancel()
	}

	var failures []error
	for _, s := range c.strategies {
		if !s.Supports(url) {
			continue
		}

		info, err := s.List(ctx, url)
		if err == nil {
			if info.Platform == "" {
				info.Platform = c.validator.DetectPlatform(url)
			}
			internal.LogDebug("Resolved %s with %s strategy (%d formats)", url, s.Name(), len(info.Formats))
			return info, nil
		}

		internal.LogDebug("%s strategy could not list %s: %v", s.Name(), url, err)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}

	return nil, c.resolutionError(ctx, url, failures)
}

func (c *Chain) resolutionError(ctx context.Context, url string, failures []error) error {
	if len(failures) == 0 {
		return internal.NewResolutionError(url, errors.New("no strategy supports this URL")).
			WithSuggestion("Check that the URL points to a page with a video")
	}
	me := internal.NewResolutionError(url, failureList(failures)).
		WithContext("tried", len(failures))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		me.Message = fmt.Sprintf("resolution timed out after %s", c.resolveTimeout)
	}
	return me
}

// Fetch downloads req with the first strategy that succeeds. Partial files
// of a failed strategy are removed before the next one runs.
func (c *Chain) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	var failures []error
	var last error

	for _, s := range c.strategies {
		if !s.Supports(req.URL) {
			continue
		}

		result, err := s.Fetch(ctx, req, progress)
		if err == nil {
			internal.LogDebug("Fetched %s with %s strategy into %s", req.URL, s.Name(), result.Path)
			return result, nil
		}

		if _, cleanupErr := c.fileOps.RemoveMatching(req.Dir, req.BaseName); cleanupErr != nil {
			internal.LogWarn("Failed to remove partial files of %s: %v", req.BaseName, cleanupErr)
		}
		if ctx.Err() != nil {
			return nil, err
		}

		internal.LogDebug("%s strategy could not fetch %s: %v", s.Name(), req.URL, err)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		last = err
	}

	if len(failures) == 0 {
		return nil, internal.NewFetchError(internal.KindUnsupportedRendition, "no strategy supports this URL").
			WithURL(req.URL)
	}

	kind := internal.KindOf(last)
	if kind == internal.KindNone {
		kind = internal.KindNetwork
	}
	return nil, internal.NewFetchError(kind, "all strategies failed").
		WithURL(req.URL).
		WithCause(failureList(failures))
}

// failureList joins strategy failures on one line so they fit a progress
// entry's error field.
type failureList []error

func (f failureList) Error() string {
	parts := make([]string, len(f))
	for i, err := range f {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (f failureList) Unwrap() []error {
	return f
}
