// Package urlutil provides URL normalization and stable page identifiers.
// Every component that compares or keys URLs goes through Normalize so that
// relative, fragment-bearing and differently-cased forms collapse to one value.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IDLength is the number of hex characters kept from the URL digest
const IDLength = 12

var (
	// ErrNotAbsolute is returned when a URL has no scheme or host
	ErrNotAbsolute = errors.New("url is not absolute")
	// ErrUnsupportedScheme is returned for anything other than http and https
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Normalize parses rawURL and returns its canonical absolute form.
// The fragment is dropped, scheme and host are lower-cased, default ports
// are removed and an empty path becomes "/".
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return normalizeURL(u)
}

// Resolve resolves href against base and normalizes the result
func Resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	if base == nil {
		return normalizeURL(ref)
	}
	return normalizeURL(base.ResolveReference(ref))
}

func normalizeURL(u *url.URL) (string, error) {
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrNotAbsolute, u.String())
	}

	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	if n.Scheme != "http" && n.Scheme != "https" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, n.Scheme)
	}

	host := strings.ToLower(n.Hostname())
	port := n.Port()
	if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	n.Host = host

	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}

	return n.String(), nil
}

// Identify returns the short stable identifier for an already normalized URL.
// The same input always yields the same id, within and across runs.
func Identify(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// Host returns the lower-cased host (with port) of rawURL, or "" if it cannot be parsed
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
