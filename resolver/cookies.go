package resolver

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// httpOnlyPrefix marks HttpOnly cookies in files exported by browsers
const httpOnlyPrefix = "#HttpOnly_"

// LoadNetscapeCookies reads a Netscape-format cookie file, the format
// yt-dlp and browser export extensions write. Expired cookies are dropped.
func LoadNetscapeCookies(path string) ([]*http.Cookie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()

	now := time.Now()
	var cookies []*http.Cookie

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
			httpOnly = true
		}

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cookie, err := parseNetscapeCookieLine(line)
		if err != nil {
			return nil, fmt.Errorf("invalid cookie format at line %d: %w", lineNum, err)
		}
		cookie.HttpOnly = httpOnly

		if !cookie.Expires.IsZero() && cookie.Expires.Before(now) {
			continue
		}
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}

	return cookies, nil
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	domain := fields[0]
	path := fields[2]
	secureStr := fields[3]
	expirationStr := fields[4]
	name := fields[5]
	value := fields[6]

	if name == "" {
		return nil, fmt.Errorf("cookie name is empty")
	}

	var expires time.Time
	if expirationStr != "0" && expirationStr != "" {
		timestamp, err := strconv.ParseInt(expirationStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	return &http.Cookie{
		Name:    name,
		Value:   value,
		Domain:  domain,
		Path:    path,
		Expires: expires,
		Secure:  strings.EqualFold(secureStr, "TRUE"),
	}, nil
}

// cookieValues redacts the literal values of loaded cookies from log output.
// Short values are left alone since they match too much ordinary text.
type cookieValues []string

func newCookieValues(cookies []*http.Cookie) cookieValues {
	var values cookieValues
	for _, c := range cookies {
		if len(c.Value) >= 8 {
			values = append(values, c.Value)
		}
	}
	return values
}

func (v cookieValues) Redact(input string) string {
	for _, value := range v {
		input = strings.ReplaceAll(input, value, "[REDACTED]")
	}
	return input
}
