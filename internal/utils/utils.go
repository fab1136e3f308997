package utils

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sensitiveFields are never logged in clear text.
var sensitiveFields = map[string]bool{
	"password":              true,
	"password_confirmation": true,
	"_token":                true,
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// UniqueTag returns a short, run-unique marker such as "QA-1a2b3c4d".
func UniqueTag(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:8]
}

// RedactForm returns a copy of the form values safe for logging.
func RedactForm(values url.Values) url.Values {
	redacted := make(url.Values, len(values))
	for key, vals := range values {
		if sensitiveFields[strings.ToLower(key)] {
			redacted[key] = []string{"***"}
			continue
		}
		redacted[key] = append([]string(nil), vals...)
	}
	return redacted
}

// LogExchange logs a completed request/response pair at debug level
func LogExchange(logger *slog.Logger, method, rawURL string, status int, duration time.Duration, form url.Values) {
	attrs := []any{
		"method", method,
		"url", rawURL,
		"status", status,
		"duration_ms", float64(duration.Microseconds()) / 1000.0,
	}
	if len(form) > 0 {
		attrs = append(attrs, "form", RedactForm(form).Encode())
	}
	logger.Debug("http exchange", attrs...)
}

// Truncate shortens s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// ModuleOf returns the first path segment, which is the taller module for
// CRUD routes ("/clientes/3/edit" -> "clientes").
func ModuleOf(path string) string {
	path = strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "root"
	}
	return path
}
