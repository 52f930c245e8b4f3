package crawler

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

// ClientOptions configures the HTTP client
type ClientOptions struct {
	UserAgent    string
	Timeout      time.Duration // Per-request timeout
	MaxRetries   int           // Extra attempts after a transient failure
	RetryBackoff time.Duration // Wait before retry n is n*RetryBackoff
	MaxBodyBytes int64
	Headers      map[string]string
	Limiter      *RateLimiter // Retries wait their turn here; nil = backoff only
}

// HTTPClient handles HTTP requests with performance metrics and bounded retry
type HTTPClient struct {
	client        *http.Client
	userAgent     string
	customHeaders map[string]string
	maxRetries    int
	retryBackoff  time.Duration
	maxBodyBytes  int64
	limiter       *RateLimiter
}

// HTTPMetrics contains performance metrics for an HTTP request
type HTTPMetrics struct {
	StartedAt    time.Time     // When the request was issued
	TTFB         time.Duration // Time to First Byte
	DownloadTime time.Duration // Total download time
	DNSLookup    time.Duration // DNS lookup time
	TCPConnect   time.Duration // TCP connection time
	TLSHandshake time.Duration // TLS handshake time
}

// HTTPResponse contains the response and metrics
type HTTPResponse struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	Metrics     HTTPMetrics
	FinalURL    string // After following redirects
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // Content-Encoding is decoded in readBody
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errTooManyRedirects
			}
			if allow, ok := req.Context().Value(redirectGuardKey{}).(func(string) bool); ok && !allow(req.URL.String()) {
				return fmt.Errorf("%w: %s", ErrRedirectVisited, req.URL)
			}
			return nil
		},
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPClient{
		client:        client,
		userAgent:     opts.UserAgent,
		customHeaders: headers,
		maxRetries:    opts.MaxRetries,
		retryBackoff:  opts.RetryBackoff,
		maxBodyBytes:  opts.MaxBodyBytes,
		limiter:       opts.Limiter,
	}
}

type redirectGuardKey struct{}

// WithRedirectGuard returns a context under which Fetch follows a redirect
// only when allow accepts the target URL. A refused redirect fails the fetch
// with ErrRedirectVisited.
func WithRedirectGuard(ctx context.Context, allow func(target string) bool) context.Context {
	return context.WithValue(ctx, redirectGuardKey{}, allow)
}

// Fetch downloads rawURL, retrying transient failures up to the configured
// limit. Any status of 400 or above is returned as a *FetchError.
func (h *HTTPClient) Fetch(ctx context.Context, rawURL string) (*PageDocument, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		if err == nil {
			err = fmt.Errorf("malformed URL %q", rawURL)
		}
		return nil, &FetchError{URL: rawURL, Transient: false, Attempts: 0, Err: err}
	}

	var lastErr *FetchError
	for attempt := 1; attempt <= h.maxRetries+1; attempt++ {
		if attempt > 1 {
			if err := h.backoff(ctx, attempt-1); err != nil {
				lastErr.Err = errors.Join(lastErr.Err, err)
				return nil, lastErr
			}
			if h.limiter != nil {
				if err := h.limiter.Wait(ctx, rawURL); err != nil {
					lastErr.Err = errors.Join(lastErr.Err, err)
					return nil, lastErr
				}
			}
		}

		resp, err := h.Get(ctx, rawURL)
		switch {
		case err != nil:
			lastErr = &FetchError{URL: rawURL, Transient: isTransientError(ctx, err), Attempts: attempt, Err: err}
		case resp.StatusCode >= 400:
			lastErr = &FetchError{
				URL:        rawURL,
				Transient:  isTransientStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Attempts:   attempt,
				Err:        fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			}
		default:
			return &PageDocument{
				URL:         rawURL,
				FinalURL:    resp.FinalURL,
				StatusCode:  resp.StatusCode,
				ContentType: resp.ContentType,
				Body:        resp.Body,
				StartedAt:   resp.Metrics.StartedAt,
				TTFB:        resp.Metrics.TTFB,
				Duration:    resp.Metrics.DownloadTime,
				Attempts:    attempt,
			}, nil
		}

		if !lastErr.Transient {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func (h *HTTPClient) backoff(ctx context.Context, retry int) error {
	wait := h.retryBackoff * time.Duration(retry)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get performs a single HTTP GET request with performance tracking.
// It measures DNS lookup time, TCP connection time, TLS handshake time,
// time to first byte (TTFB), and total download time.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	for name, value := range h.customHeaders {
		req.Header.Set(name, value)
	}

	// Setup performance tracking
	var metrics HTTPMetrics
	var dnsStart, connectStart, tlsStart, firstByteTime time.Time

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			metrics.DNSLookup = time.Since(dnsStart)
		},
		ConnectStart: func(network, addr string) {
			connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			metrics.TCPConnect = time.Since(connectStart)
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			metrics.TLSHandshake = time.Since(tlsStart)
		},
		GotFirstResponseByte: func() {
			firstByteTime = time.Now()
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	metrics.StartedAt = time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if !firstByteTime.IsZero() {
		metrics.TTFB = firstByteTime.Sub(metrics.StartedAt)
	}

	body, err := h.readBody(resp)
	if err != nil {
		return nil, err
	}

	metrics.DownloadTime = time.Since(metrics.StartedAt)

	return &HTTPResponse{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Metrics:     metrics,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// readBody decodes Content-Encoding, enforces the size cap and converts
// HTML bodies to UTF-8
func (h *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	reader := io.Reader(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer func() { _ = fl.Close() }()
		reader = fl
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, h.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, fmt.Errorf("%w of %d bytes", errBodyTooLarge, h.maxBodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTMLContentType(contentType) {
		utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
		if err == nil {
			if converted, err := io.ReadAll(utf8Reader); err == nil {
				body = converted
			}
		}
	}

	return body, nil
}

// Close closes the HTTP client
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}

func isTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// isTransientError classifies a transport error. Timeouts and dropped
// connections are retried; DNS misses, TLS failures, redirect loops,
// oversized bodies and caller cancellation are not.
func isTransientError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errTooManyRedirects) || errors.Is(err, errBodyTooLarge) || errors.Is(err, ErrRedirectVisited) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) || errors.As(err, &verifyErr) || errors.As(err, &recordErr) {
		return false
	}

	return true
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}
