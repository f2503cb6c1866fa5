// Package fetch retrieves pages from audited sites. Every request is
// validated against SSRF: hostnames are resolved up front, all resolved
// addresses are checked against blocked ranges, the connection is pinned
// to a validated address, and redirects are re-validated hop by hop.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/metrics"
)

const defaultUserAgent = "SEOAtlas-Audit/1.0 (+https://seoatlas.io/bot)"

// blockedRanges covers loopback, RFC1918, link-local, CGNAT-adjacent and
// "this network" space for both address families. Parsed once at init.
var blockedRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("fetch: bad blocked range " + c + ": " + err.Error())
		}
		nets = append(nets, n)
	}
	return nets
}

// isBlockedIP reports whether ip falls in any blocked range.
func isBlockedIP(ip net.IP) bool {
	for _, n := range blockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Result is a successfully fetched page.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string // URL after redirects
	Duration    time.Duration
}

// Fetcher performs SSRF-validated HTTP fetches.
type Fetcher struct {
	lookup       func(ctx context.Context, host string) ([]net.IPAddr, error)
	blocked      []*net.IPNet
	limiter      *Limiter
	timeout      time.Duration
	maxBodyBytes int64
	maxRedirects int
	userAgent    string
	allowPrivate bool
}

// Options configures a Fetcher. Zero values fall back to safe defaults.
type Options struct {
	Limiter      *Limiter
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	UserAgent    string

	// AllowPrivate disables the blocked-range checks. Only for local
	// development against sites on private addresses; never set in
	// production.
	AllowPrivate bool
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Fetcher{
		lookup:       net.DefaultResolver.LookupIPAddr,
		blocked:      blockedRanges,
		limiter:      opts.Limiter,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRedirects: opts.MaxRedirects,
		userAgent:    opts.UserAgent,
		allowPrivate: opts.AllowPrivate,
	}
}

// Fetch retrieves rawURL, following at most maxRedirects redirects.
// Every hop is independently resolved, validated, and dialed against the
// validated address so a DNS rebind between check and connect cannot
// redirect the request into internal address space.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	result, err := f.fetch(ctx, rawURL)
	switch {
	case err == nil:
		metrics.IncFetch("ok")
	case errors.Is(err, ErrBlockedAddress):
		metrics.IncFetch("blocked")
	default:
		metrics.IncFetch("error")
	}
	return result, err
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	current := rawURL

	for hop := 0; hop <= f.maxRedirects; hop++ {
		resp, err := f.fetchOne(ctx, current)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return nil, fmt.Errorf("fetch: redirect from %s without Location header", current)
			}
			next, err := resolveRedirect(current, location)
			if err != nil {
				return nil, err
			}
			current = next
			continue
		}

		body, err := f.readBody(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		return &Result{
			Body:        body,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			FinalURL:    current,
			Duration:    time.Since(start),
		}, nil
	}

	return nil, fmt.Errorf("fetch: %s: %w (limit %d)", rawURL, ErrTooManyRedirects, f.maxRedirects)
}

// fetchOne validates and performs a single hop without following redirects.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: %q: %w", u.Scheme, ErrUnsupportedScheme)
	}
	if u.User != nil {
		// Credentials in the URL are either a leak or an auth-bypass trick
		return nil, fmt.Errorf("fetch: %w: URL carries userinfo", ErrInvalidTarget)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("fetch: %w: no host in %q", ErrInvalidTarget, rawURL)
	}
	ip, err := f.resolveAndValidate(ctx, host)
	if err != nil {
		return nil, err
	}

	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx, host); err != nil {
			return nil, err
		}
		defer f.limiter.Release()
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	// Pin the connection to the address we validated. TLS still verifies
	// against the original hostname via ServerName/SNI.
	pinned := net.JoinHostPort(ip.String(), port)
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, network, pinned)
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: f.timeout,
		DisableKeepAlives:     true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Redirects are handled by the caller so each hop is re-validated
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request to %s failed: %w", host, err)
	}
	return resp, nil
}

// resolveAndValidate resolves host and returns the first routable address.
// If any resolved address is blocked the whole fetch is rejected; a
// half-poisoned DNS answer must not let the request through.
func (f *Fetcher) resolveAndValidate(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if f.isBlocked(ip) {
			return nil, &BlockedAddressError{Host: host, IP: ip.String()}
		}
		return ip, nil
	}

	addrs, err := f.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("fetch: DNS lookup for %q failed: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("fetch: DNS lookup for %q returned no addresses", host)
	}

	for _, addr := range addrs {
		if f.isBlocked(addr.IP) {
			return nil, &BlockedAddressError{Host: host, IP: addr.IP.String()}
		}
	}

	return addrs[0].IP, nil
}

func (f *Fetcher) isBlocked(ip net.IP) bool {
	if f.allowPrivate {
		return false
	}
	for _, n := range f.blocked {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	// Read one byte past the cap to distinguish "exactly at cap" from "over"
	body, err := io.ReadAll(io.LimitReader(r, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("fetch: %w (cap %d bytes)", ErrBodyTooLarge, f.maxBodyBytes)
	}
	return body, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveRedirect resolves location (possibly relative) against base.
func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("fetch: invalid base URL: %w", err)
	}
	next, err := baseURL.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", fmt.Errorf("fetch: invalid redirect location %q: %w", location, err)
	}
	return next.String(), nil
}
