// Package redact scrubs credentials out of free-form text before it is
// persisted or shipped to webhook receivers. Audit progress messages can
// quote fetched page content and HTTP headers, so anything that looks
// like a secret is replaced wholesale.
package redact

import (
	"regexp"
)

const placeholder = "[REDACTED]"

// Patterns are matched case-insensitively against the whole message.
// Key/value forms cover query strings, JSON fragments, and env-style
// assignments; the header forms cover raw HTTP header lines.
var patterns = []*regexp.Regexp{
	// api_key=..., "token": "...", secret=..., password: ..., auth=...
	regexp.MustCompile(`(?i)("?(?:api[_-]?key|token|secret|password|auth)"?\s*[:=]\s*)("[^"]*"|[^\s,&;]+)`),
	// Authorization: Bearer <token>
	regexp.MustCompile(`(?i)(authorization\s*:\s*bearer\s+)\S+`),
	// Cookie / Set-Cookie header lines
	regexp.MustCompile(`(?i)((?:set-)?cookie\s*:\s*).*`),
}

// String returns s with any credential-shaped fragments replaced by
// [REDACTED]. The surrounding text is preserved.
func String(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, "${1}"+placeholder)
	}
	return s
}

// Error redacts an error's message. Nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// sensitiveKey matches map keys whose values are credentials no matter
// what shape the value has.
var sensitiveKey = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth)`)

// Map returns a copy of m safe to persist or ship out: values under
// credential-named keys are dropped outright, nested maps are walked,
// and string values are scrubbed like String. The input is not modified.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKey.MatchString(k) {
			out[k] = placeholder
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = Map(val)
		case string:
			out[k] = String(val)
		default:
			out[k] = v
		}
	}
	return out
}
