package scrape

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks that a target is an absolute http(s) URL with a host.
// Anything else is rejected before a job is ever enqueued.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url must be a non-empty string")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}

// Domain returns the lowercased hostname of a URL, without port. Returns ""
// when the URL cannot be parsed.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
