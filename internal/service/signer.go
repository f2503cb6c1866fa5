package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidWebhookURL wraps every endpoint URL validation failure.
var ErrInvalidWebhookURL = errors.New("invalid webhook URL")

// SignPayload computes the webhook signature for a payload:
// "sha256=" followed by the lowercase hex HMAC-SHA256 of the raw bytes.
// Receivers verify against the exact bytes they received, so the payload
// must be signed after serialization, never re-marshalled.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature reports whether signature matches payload under
// secret. Comparison is constant time.
func ValidateSignature(payload []byte, signature, secret string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateWebhookSecret returns a new random secret with the whsec_
// prefix. Shown to the caller once at registration; only the encrypted
// form is stored.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

// allowedWebhookPorts are the only ports a webhook endpoint may use.
var allowedWebhookPorts = map[string]bool{
	"":     true, // scheme default
	"80":   true,
	"443":  true,
	"8080": true,
	"8443": true,
}

// deniedHostSubstrings rejects hostnames that advertise internal
// infrastructure anywhere in the name, not just as a suffix.
var deniedHostSubstrings = []string{
	"metadata",
	"internal",
}

// WebhookLookupIP resolves candidate endpoint hosts. Package-level so
// tests can stub resolution.
var WebhookLookupIP = net.LookupIP

// ValidateWebhookURL rejects endpoint URLs that would turn webhook
// delivery into an SSRF vector: non-HTTP schemes, unusual ports, and
// hosts that are (or resolve into) internal address space.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidWebhookURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: no host", ErrInvalidWebhookURL)
	}
	if !allowedWebhookPorts[u.Port()] {
		return fmt.Errorf("%w: port %s is not allowed", ErrInvalidWebhookURL, u.Port())
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("%w: host %q is not allowed", ErrInvalidWebhookURL, host)
	}
	for _, denied := range deniedHostSubstrings {
		if strings.Contains(lower, denied) {
			return fmt.Errorf("%w: host %q is not allowed", ErrInvalidWebhookURL, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isInternalIP(ip) {
			return fmt.Errorf("%w: address %s is not allowed", ErrInvalidWebhookURL, ip)
		}
		return nil
	}

	// A clean-looking hostname can still point into internal space.
	ips, err := WebhookLookupIP(host)
	if err != nil {
		return fmt.Errorf("%w: host %q does not resolve: %v", ErrInvalidWebhookURL, host, err)
	}
	for _, ip := range ips {
		if isInternalIP(ip) {
			return fmt.Errorf("%w: host %q resolves to internal address %s", ErrInvalidWebhookURL, host, ip)
		}
	}

	return nil
}

func isInternalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
