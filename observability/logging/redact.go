package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive attribute values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach a log sink.
// Matching ignores case and separators, so "HMACSecret" and "hmac_secret"
// are the same key.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"secret":        {},
	"hmacsecret":    {},
	"passphrase":    {},
	"password":      {},
	"privatekey":    {},
	"signature":     {},
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "", ".", "").Replace(key)
}

// IsSensitive reports whether values logged under key are redacted.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys returns the redacted keys in sorted order.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the redacted placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// redactAttr masks attr when its key is sensitive. Groups are walked so a
// nested secret is masked too.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		masked := make([]any, 0, len(members))
		for _, member := range members {
			masked = append(masked, redactAttr(member))
		}
		return slog.Group(attr.Key, masked...)
	}
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return attr
}
