package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// plain lists keys MaskField never redacts.
var plain = map[string]bool{
	"service":   true,
	"env":       true,
	"component": true,
	"session":   true,
	"account":   true,
	"action":    true,
	"trigger":   true,
	"route":     true,
	"error":     true,
}

// sensitive fragments cause redaction wherever they appear in a key, even
// when the caller logged the value with a plain slog.String.
var sensitive = []string{"passphrase", "password", "secret", "bearer", "private_key", "api_key", "authorization"}

// IsSensitive reports whether values logged under key are redacted
// automatically.
func IsSensitive(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitive {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// MaskField returns an attribute that hides value unless key is one of the
// identifiers safe to log in the clear. Empty values pass through so a missing
// setting stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || plain[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
