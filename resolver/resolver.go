// Package resolver turns page URLs into downloadable renditions. Several
// strategies are tried in order: direct media links, yt-dlp, and two markup
// scrapers reading Open Graph tags and schema.org structured data.
package resolver

import (
	"fmt"

	"vidfetch/internal"
	"vidfetch/utils"
)

// New builds the default strategy chain from config. The HTTP client and
// limiter are shared by all strategies so the rate limit applies to the
// combined bandwidth.
func New(cfg *internal.Config) (*Chain, error) {
	client, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		PageTimeout: cfg.RequestTimeout,
		ProxyURL:    cfg.ProxyURL,
		UserAgents:  cfg.UserAgentList,
		RetryConfig: &utils.RetryConfig{
			MaxAttempts:   cfg.MaxRetries,
			BaseDelay:     utils.DefaultRetryConfig().BaseDelay,
			MaxDelay:      utils.DefaultRetryConfig().MaxDelay,
			Multiplier:    utils.DefaultRetryConfig().Multiplier,
			JitterPercent: utils.DefaultRetryConfig().JitterPercent,
		},
	})
	if err != nil {
		return nil, err
	}

	if cfg.CookiesFile != "" {
		cookies, err := LoadNetscapeCookies(cfg.CookiesFile)
		if err != nil {
			return nil, internal.NewValidationErrorWithValue("cookies_file", err.Error(), cfg.CookiesFile).
				WithSuggestion("Export cookies in Netscape format, e.g. with a cookies.txt browser extension")
		}
		client.SetCookies(cookies)
		internal.GetLogger().AddRedactor(newCookieValues(cookies))
		internal.LogInfo("Loaded %d cookie(s) from %s", len(cookies), cfg.CookiesFile)
	}

	rate, err := utils.ParseRateLimit(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	limiter := utils.NewTokenBucketLimiter(rate)

	chain := NewChain(cfg.ResolveTimeout,
		NewDirectStrategy(client, limiter),
		NewYtDlpStrategy(YtDlpOptions{
			Executable:  cfg.YtDlpPath,
			CookiesFile: cfg.CookiesFile,
			ProxyURL:    cfg.ProxyURL,
			RateLimit:   rate,
		}),
		NewOpenGraphStrategy(client, limiter),
		NewStructuredDataStrategy(client, limiter),
	)
	internal.LogDebug("Resolver strategies: %v", chain.Names())
	return chain, nil
}
