// Package security provides security helpers for huginn: masking of
// sensitive values before they reach logs and permission checks for
// configuration files that may carry credentials.
package security

import (
	"fmt"
	"os"
	"regexp"
)

const secureConfigMode = 0o600

// Patterns for common secret shapes in key=value or key: value form.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key)[=:]\s*['"]?[a-zA-Z0-9_-]{8,}['"]?`),
	regexp.MustCompile(`(?i)(token)[=:]\s*['"]?[a-zA-Z0-9_-]{8,}['"]?`),
	regexp.MustCompile(`(?i)(secret)[=:]\s*['"]?[a-zA-Z0-9_-]{8,}['"]?`),
	regexp.MustCompile(`(?i)(password)[=:]\s*['"]?[^\s'"]{8,}['"]?`),
}

// MaskSensitive replaces secret-looking values in the input with a redaction
// marker so they never appear in clear text in log output.
func MaskSensitive(input string) string {
	masked := input
	for _, re := range sensitivePatterns {
		masked = re.ReplaceAllString(masked, "$1=***REDACTED***")
	}
	return masked
}

// CheckFilePermissions reports whether the file at path is restricted to its
// owner (0600 on unix-like systems). Missing files are treated as insecure.
func CheckFilePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm() == secureConfigMode
}

// ValidateConfigFileSecurity returns a warning message when the config file
// has permissive permissions, or an empty string when it is acceptable.
func ValidateConfigFileSecurity(path string) string {
	if path == "" || CheckFilePermissions(path) {
		return ""
	}
	return fmt.Sprintf(
		"configuration file %s may contain sensitive data but has permissive permissions; "+
			"consider restricting access with: chmod 600 %s", path, path)
}
