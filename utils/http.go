package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"vidfetch/internal"
)

// maxPageSize bounds how much markup GetPage reads
const maxPageSize = 8 << 20

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	// PageTimeout bounds requests whose body is read fully (pages, HEAD).
	// Streaming downloads are bounded by the caller's context instead.
	PageTimeout time.Duration
	ProxyURL    string
	UserAgents  []string
	RetryConfig *RetryConfig
}

// HTTPClient provides an HTTP client with retry logic and user-agent rotation
type HTTPClient struct {
	client       *http.Client
	jar          *cookiejar.Jar
	pageTimeout  time.Duration
	userAgents   []string
	userAgentIdx int
	mutex        sync.RWMutex
	retryConfig  *RetryConfig
}

// Predefined user agent strings for rotation
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	client, _ := NewHTTPClientWithConfig(&HTTPClientConfig{
		PageTimeout: 30 * time.Second,
		RetryConfig: DefaultRetryConfig(),
	})
	return client
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) (*HTTPClient, error) {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig()
	}
	if config.RetryConfig.MaxAttempts < 1 {
		config.RetryConfig.MaxAttempts = 1
	}
	if config.PageTimeout <= 0 {
		config.PageTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, internal.NewValidationErrorWithValue("proxy", err.Error(), config.ProxyURL).
				WithSuggestion("Use http://, https:// or socks5:// proxy URLs")
		}
	}

	jar, _ := cookiejar.New(nil)

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	userAgents := config.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}

	return &HTTPClient{
		client:      client,
		jar:         jar,
		pageTimeout: config.PageTimeout,
		userAgents:  append([]string(nil), userAgents...),
		retryConfig: config.RetryConfig,
	}, nil
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// SetCookies attaches cookies to every later request for their domains
func (c *HTTPClient) SetCookies(cookies []*http.Cookie) {
	byDomain := make(map[string][]*http.Cookie)
	for _, cookie := range cookies {
		domain := strings.TrimPrefix(cookie.Domain, ".")
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], cookie)
	}
	for domain, list := range byDomain {
		c.jar.SetCookies(&url.URL{Scheme: "https", Host: domain, Path: "/"}, list)
	}
}

// GetWithContext performs a GET request with retry logic. The response body
// is streamed; the caller closes it.
func (c *HTTPClient) GetWithContext(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers)
}

// Head performs a HEAD request bounded by the page timeout
func (c *HTTPClient) Head(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodHead, rawURL, headers)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

// GetPage fetches a document and returns its body and the final URL after
// redirects. Bodies larger than 8 MiB are truncated.
func (c *HTTPClient) GetPage(ctx context.Context, rawURL string, headers map[string]string) ([]byte, *url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}

	resp, err := c.do(ctx, http.MethodGet, rawURL, headers)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, classifyTransportError(ctx, err)
	}
	return body, resp.Request.URL, nil
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, headers map[string]string) (*http.Response, error) {
	return c.executeWithRetryContext(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, internal.NewInvalidInputError("url", err.Error())
		}

		req.Header.Set("User-Agent", c.GetCurrentUserAgent())
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		internal.GetLogger().LogHTTPRequest(req)
		resp, err := c.client.Do(req)
		if err == nil {
			internal.GetLogger().LogHTTPResponse(resp)
		}
		return resp, err
	})
}

// RotateUserAgent rotates to the next user agent string
func (c *HTTPClient) RotateUserAgent() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.userAgentIdx = (c.userAgentIdx + 1) % len(c.userAgents)
}

// GetCurrentUserAgent returns the current user agent string
func (c *HTTPClient) GetCurrentUserAgent() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.userAgents[c.userAgentIdx]
}

// executeWithRetryContext executes a function with retry logic and context
func (c *HTTPClient) executeWithRetryContext(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.calculateDelay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, classifyTransportError(ctx, ctx.Err())
			}
		}

		resp, err := fn()
		if err != nil {
			if internal.IsValidation(err) {
				return nil, err
			}
			lastErr = classifyTransportError(ctx, err)
			if ctx.Err() != nil || !c.isRetryableError(err) {
				return nil, lastErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
			return resp, nil
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			c.RotateUserAgent()
			lastErr = internal.NewFetchError(internal.KindAuth, "access forbidden").
				WithContext("status", resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = internal.NewFetchError(internal.KindNetwork, "rate limited by remote host").
				WithContext("status", resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			resp.Body.Close()
			return nil, internal.NewFetchError(internal.KindNotFound, "remote resource not found").
				WithContext("status", resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			return nil, internal.NewFetchError(internal.KindAuth, "authentication required").
				WithContext("status", resp.StatusCode)
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = internal.NewFetchError(internal.KindNetwork, "remote server error").
				WithContext("status", resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, internal.NewFetchError(internal.KindNetwork, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
				WithContext("status", resp.StatusCode)
		}
	}

	if me, ok := internal.AsMediaError(lastErr); ok {
		return nil, me.WithContext("attempts", c.retryConfig.MaxAttempts)
	}
	return nil, lastErr
}

// classifyTransportError maps a client error onto a fetch error kind
func classifyTransportError(ctx context.Context, err error) error {
	if _, ok := internal.AsMediaError(err); ok {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return internal.NewFetchError(internal.KindCancelled, "request cancelled").WithCause(err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return internal.NewFetchError(internal.KindTimeout, "request timed out").WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewFetchError(internal.KindTimeout, "request timed out").WithCause(err)
	}
	return internal.NewFetchError(internal.KindNetwork, "request failed").WithCause(err)
}

// calculateDelay calculates the delay for the next retry attempt
func (c *HTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retryConfig.BaseDelay) * math.Pow(c.retryConfig.Multiplier, float64(attempt-1))

	jitter := delay * c.retryConfig.JitterPercent * (rand.Float64()*2 - 1)
	delay += jitter

	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}
	if delay < 0 {
		delay = float64(c.retryConfig.BaseDelay)
	}

	return time.Duration(delay)
}

// isRetryableError determines if a transport error should trigger a retry
func (c *HTTPClient) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := internal.AsMediaError(err); ok {
		return me.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"eof",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}
