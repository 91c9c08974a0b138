package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidfetch/internal"
)

// TokenBucketLimiter caps the combined bandwidth of all active fetches.
// A zero or negative rate disables limiting.
type TokenBucketLimiter struct {
	mutex      sync.Mutex
	rate       int64
	bucket     int64
	maxBucket  int64
	lastUpdate time.Time
	now        func() time.Time
}

// NewTokenBucketLimiter creates a new rate limiter
func NewTokenBucketLimiter(bytesPerSecond int64) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:       bytesPerSecond,
		bucket:     bytesPerSecond,
		maxBucket:  bytesPerSecond,
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

var _ internal.RateLimiter = (*TokenBucketLimiter)(nil)

// Wait blocks until n bytes may be consumed or ctx is done
func (r *TokenBucketLimiter) Wait(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.Lock()
	if r.rate <= 0 {
		r.mutex.Unlock()
		return nil
	}

	now := r.now()
	elapsed := now.Sub(r.lastUpdate)
	r.lastUpdate = now

	r.bucket += int64(elapsed.Seconds() * float64(r.rate))
	if r.bucket > r.maxBucket {
		r.bucket = r.maxBucket
	}

	needed := int64(n)
	if r.bucket >= needed {
		r.bucket -= needed
		r.mutex.Unlock()
		return nil
	}

	// Borrow the deficit so concurrent callers queue behind each other
	deficit := needed - r.bucket
	r.bucket -= needed
	waitTime := time.Duration(float64(deficit) / float64(r.rate) * float64(time.Second))
	r.mutex.Unlock()

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRate updates the rate limit
func (r *TokenBucketLimiter) SetRate(bytesPerSecond int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.rate = bytesPerSecond
	r.maxBucket = bytesPerSecond
	if r.bucket > r.maxBucket {
		r.bucket = r.maxBucket
	}
}

// Rate returns the configured bytes per second
func (r *TokenBucketLimiter) Rate() int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.rate
}

// ParseRateLimit parses human-readable rate limit strings (e.g., "5M", "1.5MB")
func ParseRateLimit(rateStr string) (int64, error) {
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	if val, err := strconv.ParseInt(rateStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("rate cannot be negative: %d", val)
		}
		return val, nil
	}

	upper := strings.ToUpper(rateStr)
	var numStr, suffix string
	switch {
	case len(upper) >= 3 && (strings.HasSuffix(upper, "KB") || strings.HasSuffix(upper, "MB") || strings.HasSuffix(upper, "GB")):
		numStr, suffix = rateStr[:len(rateStr)-2], upper[len(upper)-2:]
	case len(upper) >= 2:
		numStr, suffix = rateStr[:len(rateStr)-1], upper[len(upper)-1:]
	default:
		return 0, fmt.Errorf("invalid rate format: %s", rateStr)
	}

	baseValue, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if baseValue < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %s", rateStr)
	}

	var multiplier float64
	switch suffix {
	case "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %s (supported: B, K/KB, M/MB, G/GB)", suffix)
	}

	return int64(baseValue * multiplier), nil
}
