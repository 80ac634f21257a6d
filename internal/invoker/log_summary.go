package invoker

import (
	"regexp"
	"strings"
)

var summaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)fatal error:`),
	regexp.MustCompile(`(?i)cmake error`),
	regexp.MustCompile(`(?i)undefined reference to`),
	regexp.MustCompile(`(?i)could not find toolchain`),
	regexp.MustCompile(`(?i)no such file or directory`),
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)error:`),
	regexp.MustCompile(`(?i)failed`),
}

var noiseTokens = []string{
	"-- configuring",
	"-- build files have been written",
	"-- generating done",
	"-- running vcpkg install",
	"ninja: build stopped",
	"gmake: ***",
}

// SummarizeLog picks the last line of a build log that looks like the cause
// of a failure, falling back to the last non-noise line.
func SummarizeLog(logContent string) string {
	if strings.TrimSpace(logContent) == "" {
		return ""
	}
	lines := strings.Split(tailLines(logContent, 200), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isNoiseLine(line) {
			continue
		}
		if matchesAny(line, summaryPatterns) {
			return trimSummary(line)
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isNoiseLine(line) {
			continue
		}
		return trimSummary(line)
	}
	return ""
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isNoiseLine(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range noiseTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func trimSummary(line string) string {
	const maxLen = 240
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen] + "..."
}
