package stats

import (
	"regexp"
	"strings"
)

// Automation accounts are excluded from ownership attribution before any
// accumulation or ranking happens.
var botPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[bot\]$`),
	regexp.MustCompile(`(?i)(^|[-_])bot$`),
	regexp.MustCompile(`(?i)^(dependabot|renovate|github-actions|snyk)`),
}

// IsBotIdentity reports whether an author identity matches a known
// automation-account pattern.
func IsBotIdentity(identity string) bool {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return false
	}
	for _, pattern := range botPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Paths under vendored or build-output directories are excluded from the
// touched-file set, but not from line counts.
var excludedPathPrefixes = []string{
	"vendor/",
	"node_modules/",
	"dist/",
	"build/",
	"third_party/",
}

func isExcludedPath(path string) bool {
	for _, prefix := range excludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return strings.Contains(path, "/node_modules/") || strings.Contains(path, "/vendor/")
}
