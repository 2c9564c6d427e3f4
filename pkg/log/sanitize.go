package log

import (
	"regexp"
	"strings"
)

// sensitiveKeys are substrings of log keys whose values are masked. They cover
// the GLPI credentials (app_token, user_token, session_token, Authorization
// and Session-Token headers) and the service's own secrets.
var sensitiveKeys = []string{
	"token",
	"authorization",
	"password", "passwd", "pwd",
	"secret",
	"encryption_key",
	"credential",
}

// dsnPassword matches the password of a MySQL DSN (user:password@tcp(...)).
var dsnPassword = regexp.MustCompile(`^([^:/@]+):([^@]+)@`)

// SanitizeField masks the value when key names a credential. DSN values keep
// everything but their password.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "dsn") || strings.Contains(lowerKey, "source") {
		return dsnPassword.ReplaceAllString(value, "$1:****@")
	}

	for _, keyword := range sensitiveKeys {
		if strings.Contains(lowerKey, keyword) {
			return maskSecret(value)
		}
	}

	// "user_token abc" or "Session-Token: abc" embedded in free text
	if strings.Contains(strings.ToLower(value), "user_token ") {
		return maskAfter(value, "user_token ")
	}

	return value
}

// maskSecret keeps the first and last 4 characters of long values.
func maskSecret(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// maskAfter masks the word following marker.
func maskAfter(value, marker string) string {
	idx := strings.Index(strings.ToLower(value), marker)
	start := idx + len(marker)
	end := strings.IndexAny(value[start:], " \t,;\"'")
	if end < 0 {
		end = len(value) - start
	}
	return value[:start] + maskSecret(value[start:start+end]) + value[start+end:]
}
