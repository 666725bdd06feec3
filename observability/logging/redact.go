package logging

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces secrets in log lines and audit records.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked wherever they appear: as log attribute keys and as
// JSON object fields in request bodies. Lookup is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"privatekey":    {},
	"operatorkey":   {},
	"signer":        {},
	"hmacsecret":    {},
	"authorization": {},
	"token":         {},
}

// redactionAllowlist names the keys MaskField always lets through.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"network":   {},
	"batch":     {},
	"contract":  {},
	"mode":      {},
}

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalize(key)]
	return ok
}

// IsSensitive reports whether values under key must never be written out.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalize(key)]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns RedactedValue for non-empty values and blanks unchanged.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// RedactJSON masks sensitive fields at any depth of a JSON document. Input
// that is not valid JSON is returned unchanged.
func RedactJSON(body []byte) []byte {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return append([]byte(nil), body...)
	}
	if !redactValue(doc) {
		return append([]byte(nil), body...)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return out
}

func redactValue(v any) bool {
	changed := false
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			if IsSensitive(key) {
				if s, ok := child.(string); ok && strings.TrimSpace(s) == "" {
					continue
				}
				node[key] = RedactedValue
				changed = true
				continue
			}
			if redactValue(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range node {
			if redactValue(child) {
				changed = true
			}
		}
	}
	return changed
}
