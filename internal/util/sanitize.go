package util

import (
	"html"
	"os"
	"strings"
)

// SanitizeInput trims whitespace and escapes HTML/script-like characters.
// Device names are display-only and round-trip through web clients, so they
// are escaped before persistence.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// GetEnv returns the value of an environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
