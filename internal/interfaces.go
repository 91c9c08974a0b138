package internal

import "context"

// Resolver turns a page URL into renditions and downloads one of them
type Resolver interface {
	List(ctx context.Context, url string) (*MediaInfo, error)
	Fetch(ctx context.Context, req FetchRequest, progress ProgressFunc) (*FetchResult, error)
}

// Strategy is one resolution approach in an ordered chain
type Strategy interface {
	Resolver
	Name() string
	Supports(url string) bool
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
