package resolver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"vidfetch/internal"
	"vidfetch/utils"
)

const (
	copyBufferSize = 32 * 1024
	partSuffix     = ".part"
)

// streamer downloads a single URL to disk through the shared HTTP client and
// bandwidth limiter.
type streamer struct {
	client  *utils.HTTPClient
	limiter internal.RateLimiter
	fileOps *utils.FileOperations
}

func newStreamer(client *utils.HTTPClient, limiter internal.RateLimiter) *streamer {
	return &streamer{client: client, limiter: limiter, fileOps: utils.NewFileOperations()}
}

// download writes mediaURL to dir/base.<ext>. The body goes to a .part file
// first and is renamed on success. progress receives byte counts; total is 0
// when the server sends no length.
func (s *streamer) download(ctx context.Context, mediaURL, dir, base, fallbackExt string, headers map[string]string, progress internal.ProgressFunc) (string, error) {
	resp, err := s.client.GetWithContext(ctx, mediaURL, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return "", internal.NewFetchError(internal.KindUnsupportedRendition, "link points to a web page, not a media file").
			WithURL(mediaURL)
	}

	ext := extensionFor(mediaURL, resp.Header.Get("Content-Type"), fallbackExt)
	finalPath := filepath.Join(dir, base+"."+ext)
	partPath := finalPath + partSuffix

	if err := s.fileOps.EnsureDir(dir); err != nil {
		return "", internal.NewFetchError(internal.KindStorage, "cannot create storage directory").WithCause(err)
	}
	file, err := os.Create(partPath)
	if err != nil {
		return "", internal.NewFetchError(internal.KindStorage, "cannot create output file").WithCause(err)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	written, copyErr := s.copyWithRateLimit(ctx, file, resp.Body, total, progress)
	closeErr := file.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = internal.NewFetchError(internal.KindStorage, "cannot write output file").WithCause(closeErr)
	}
	if copyErr == nil && total > 0 && written != total {
		copyErr = internal.NewFetchError(internal.KindNetwork,
			fmt.Sprintf("incomplete download: got %d of %d bytes", written, total))
	}
	if copyErr != nil {
		os.Remove(partPath)
		return "", copyErr
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return "", internal.NewFetchError(internal.KindStorage, "cannot finalize output file").WithCause(err)
	}
	return finalPath, nil
}

// copyWithRateLimit copies src to dst in 32KB chunks, waiting on the limiter
// before every write and reporting progress after it.
func (s *streamer) copyWithRateLimit(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress internal.ProgressFunc) (int64, error) {
	buffer := make([]byte, copyBufferSize)
	var written int64

	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if s.limiter != nil {
				if waitErr := s.limiter.Wait(ctx, n); waitErr != nil {
					return written, classifyContext(ctx, waitErr)
				}
			}

			w, writeErr := dst.Write(buffer[:n])
			written += int64(w)
			if writeErr != nil {
				return written, internal.NewFetchError(internal.KindStorage, "cannot write output file").WithCause(writeErr)
			}
			if w != n {
				return written, internal.NewFetchError(internal.KindStorage,
					fmt.Sprintf("short write: wrote %d, expected %d", w, n))
			}
			if progress != nil {
				progress(written, total)
			}
		}

		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, classifyContext(ctx, err)
		}

		if ctx.Err() != nil {
			return written, classifyContext(ctx, ctx.Err())
		}
	}
}

// classifyContext attributes a read failure to the context when it is done
func classifyContext(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return internal.NewFetchError(internal.KindTimeout, "download timed out").WithCause(err)
	case ctx.Err() != nil:
		return internal.NewFetchError(internal.KindCancelled, "download cancelled").WithCause(err)
	}
	return internal.NewFetchError(internal.KindNetwork, "connection lost during download").WithCause(err)
}

// extensionFor picks a file extension from the URL path, then the content
// type, then fallback.
func extensionFor(rawURL, contentType, fallback string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); isSafeExt(ext) && mediaExt(ext) {
			return ext
		}
	}
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext, ok := contentTypeExt[mediaType]; ok {
				return ext
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "mp4"
}

var contentTypeExt = map[string]string{
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
	"video/x-flv":      "flv",
	"video/3gpp":       "3gp",
	"audio/mp4":        "m4a",
	"audio/mpeg":       "mp3",
	"audio/ogg":        "ogg",
	"audio/webm":       "webm",
	"audio/wav":        "wav",
}

var mediaValidator = utils.NewURLValidator()

func mediaExt(ext string) bool {
	return mediaValidator.IsMediaExtension(ext)
}

func isSafeExt(ext string) bool {
	if ext == "" || len(ext) > 8 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// audioExt reports whether ext is an audio-only container
func audioExt(ext string) bool {
	switch ext {
	case "m4a", "mp3", "ogg", "opus", "wav":
		return true
	}
	return false
}
