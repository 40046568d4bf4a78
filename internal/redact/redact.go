// Package redact strips personally identifiable information from text and
// from nested JSON-like structures before anything is logged or persisted.
// Redaction is a transform, not a gate: non-matching text is untouched and
// container shape (keys, array order) is preserved.
package redact

import "regexp"

type pattern struct {
	re  *regexp.Regexp
	tag string
}

// Ordered. Earlier patterns consume their matches before later, looser ones
// get a chance (cards before SSNs before phones).
var patterns = []pattern{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b(?:sk|pk|api|key|token|secret)[_\-][A-Za-z0-9_\-]{16,}\b`), "[TOKEN_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`), "[CARD_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`), "[SSN_REDACTED]"},
	{regexp.MustCompile(`\b(?:\+?1[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`), "[PHONE_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
}

// String redacts all recognized PII patterns in s.
func String(s string) string {
	for _, p := range patterns {
		s = p.re.ReplaceAllString(s, p.tag)
	}
	return s
}

// Value walks a decoded JSON-like value and redacts every leaf string,
// returning a structure of identical shape. Non-string leaves pass through
// unchanged.
func Value(v any) any {
	switch val := v.(type) {
	case string:
		return String(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Value(item)
		}
		return out
	default:
		return v
	}
}
