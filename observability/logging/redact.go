package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys containing one of these fragments never reach the log in clear text.
var sensitiveFragments = []string{"secret", "token", "authorization", "password", "headers"}

// Sensitive reports whether values logged under key must be masked.
func Sensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskField builds a string attribute, masking the value when key is
// sensitive. Empty values are kept so missing configuration stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !Sensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !Sensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
