package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidfetch/internal"
)

const (
	defaultMinSegmentSize = 8 << 20
	defaultMaxSegments    = 4
	segmentAttempts       = 3
)

// errRangesIgnored means the server answered a range request with the whole
// body. The caller falls back to a single stream.
var errRangesIgnored = errors.New("server ignored range request")

// segment is an inclusive byte range of the output file
type segment struct {
	index      int
	start, end int64
}

func (s segment) size() int64 { return s.end - s.start + 1 }

// segmentPolicy decides when a file is worth splitting
type segmentPolicy struct {
	minSize int64
	max     int
}

func defaultSegmentPolicy() segmentPolicy {
	return segmentPolicy{minSize: defaultMinSegmentSize, max: defaultMaxSegments}
}

// plan splits size bytes into at most max ranges of at least minSize bytes.
// The last range takes the remainder. A file too small to split yields one
// range, an empty file none.
func (p segmentPolicy) plan(size int64) []segment {
	if size <= 0 {
		return nil
	}

	count := p.max
	if count < 1 {
		count = 1
	}
	if p.minSize > 0 {
		if possible := size / p.minSize; possible < int64(count) {
			count = int(possible)
		}
	}
	if count < 1 {
		count = 1
	}

	segmentSize := size / int64(count)
	segments := make([]segment, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * segmentSize
		end := start + segmentSize - 1
		if i == count-1 {
			end = size - 1
		}
		segments = append(segments, segment{index: i, start: start, end: end})
	}
	return segments
}

// byteCounter aggregates progress from concurrent segment workers
type byteCounter struct {
	mu       sync.Mutex
	done     int64
	total    int64
	progress internal.ProgressFunc
}

func (c *byteCounter) add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done += n
	if c.progress != nil {
		c.progress(c.done, c.total)
	}
}

// downloadSegmented fetches mediaURL as parallel byte ranges written into a
// preallocated .part file, then renames it to dir/base.ext.
func (s *streamer) downloadSegmented(ctx context.Context, mediaURL, dir, base, ext string, size int64, segments []segment, headers map[string]string, progress internal.ProgressFunc) (string, error) {
	finalPath := filepath.Join(dir, base+"."+ext)
	partPath := finalPath + partSuffix

	if err := s.fileOps.EnsureDir(dir); err != nil {
		return "", internal.NewFetchError(internal.KindStorage, "cannot create storage directory").WithCause(err)
	}
	file, err := os.Create(partPath)
	if err != nil {
		return "", internal.NewFetchError(internal.KindStorage, "cannot create output file").WithCause(err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		os.Remove(partPath)
		return "", internal.NewFetchError(internal.KindStorage, "cannot allocate output file").WithCause(err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	counter := &byteCounter{total: size, progress: progress}
	jobs := make(chan segment, len(segments))
	for _, seg := range segments {
		jobs <- seg
	}
	close(jobs)

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	for i := 0; i < len(segments); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				if err := s.fetchSegment(ctx, file, mediaURL, seg, headers, counter); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel(err)
					})
					return
				}
			}
		}()
	}
	wg.Wait()

	closeErr := file.Close()
	if firstErr == nil && closeErr != nil {
		firstErr = internal.NewFetchError(internal.KindStorage, "cannot write output file").WithCause(closeErr)
	}
	if firstErr != nil {
		os.Remove(partPath)
		return "", firstErr
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return "", internal.NewFetchError(internal.KindStorage, "cannot finalize output file").WithCause(err)
	}
	internal.LogDebug("Downloaded %d bytes in %d segments", size, len(segments))
	return finalPath, nil
}

// fetchSegment downloads one range, retrying connection failures with
// exponential backoff. Bytes from a failed attempt are rewritten by the next.
func (s *streamer) fetchSegment(ctx context.Context, file *os.File, mediaURL string, seg segment, headers map[string]string, counter *byteCounter) error {
	var lastErr error
	for attempt := 0; attempt < segmentAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return classifyContext(ctx, ctx.Err())
			}
		}

		written, err := s.fetchRange(ctx, file, mediaURL, seg, headers, counter)
		if err == nil {
			return nil
		}
		// undo the partial count so progress stays truthful
		counter.add(-written)
		lastErr = err

		if errors.Is(err, errRangesIgnored) || ctx.Err() != nil || internal.KindOf(err) != internal.KindNetwork {
			return err
		}
		internal.LogDebug("Segment %d failed (attempt %d/%d): %v", seg.index, attempt+1, segmentAttempts, err)
	}
	return lastErr
}

func (s *streamer) fetchRange(ctx context.Context, file *os.File, mediaURL string, seg segment, headers map[string]string, counter *byteCounter) (int64, error) {
	reqHeaders := map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", seg.start, seg.end)}
	for k, v := range headers {
		reqHeaders[k] = v
	}

	resp, err := s.client.GetWithContext(ctx, mediaURL, reqHeaders)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, errRangesIgnored
	}

	var reported int64
	dst := io.NewOffsetWriter(file, seg.start)
	written, err := s.copyWithRateLimit(ctx, dst, io.LimitReader(resp.Body, seg.size()), 0, func(done, _ int64) {
		counter.add(done - reported)
		reported = done
	})
	if err != nil {
		return written, err
	}
	if written != seg.size() {
		return written, internal.NewFetchError(internal.KindNetwork,
			fmt.Sprintf("segment %d incomplete: got %d of %d bytes", seg.index, written, seg.size()))
	}
	return written, nil
}
