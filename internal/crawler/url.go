package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagRemoveDotSegments

// NormalizeURL standardizes a URL so equivalent spellings share one
// visited-set key. It lowercases the scheme and host, removes default
// ports, dot segments and fragments. Query strings are left untouched.
func NormalizeURL(rawURL string) (string, error) {
	normalized, err := purell.NormalizeURLString(rawURL, normalizeFlags)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	return normalized, nil
}

// HostOf returns the lowercase host (with port) of rawURL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}

// IsAbsoluteHTTP reports whether rawURL is an absolute http(s) URL.
func IsAbsoluteHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
