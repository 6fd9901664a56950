// Package redact strips credentials (Matrix access token, Redis password)
// from text before it is logged or posted to a room.
package redact

import (
	"strings"
	"sync"
)

const placeholder = "[REDACTED]"

// minSecretLen keeps short values from blanking common substrings.
const minSecretLen = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Flags returns a copy of chat or CLI flags with credential-looking keys
// blanked, suitable for audit payloads.
func Flags(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if isSensitiveKey(k) && v != "" {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// Set is a process-wide registry of secret values. The zero value is ready
// to use.
type Set struct {
	mu     sync.RWMutex
	values []string
}

// Add registers values; short or empty ones are ignored.
func (s *Set) Add(values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		if len(v) >= minSecretLen {
			s.values = append(s.values, v)
		}
	}
}

// String redacts every registered value from msg.
func (s *Set) String(msg string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return String(msg, s.values...)
}
