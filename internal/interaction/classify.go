package interaction

import (
	"regexp"
	"unicode/utf8"
)

// TruncatedSuffix marks text cut by Truncate.
const TruncatedSuffix = "[truncated]"

// Limits for raw model exchanges.
const (
	MaxPromptChars   = 2000
	MaxResponseChars = 1000
)

const redacted = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	// credentials
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|password|passwd|secret|token|bearer)\b\s*[:=]?\s*\S+`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{20,}\b`),
	regexp.MustCompile(`\bsk-[0-9A-Za-z]{16,}\b`),
	// email
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	// card-like digit runs
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	// US SSN
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

var confidentialPattern = regexp.MustCompile(`(?i)\b(?:confidential|private|internal only|nda)\b`)

// Classify rates the sensitivity of texts. Task data is Internal unless
// it carries credentials or personal data.
func Classify(texts ...string) Classification {
	c := Internal
	for _, t := range texts {
		for _, re := range sensitivePatterns {
			if re.MatchString(t) {
				return Sensitive
			}
		}
		if confidentialPattern.MatchString(t) {
			c = Confidential
		}
	}
	return c
}

// Redact replaces credentials and personal data in s.
func Redact(s string) string {
	for _, re := range sensitivePatterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Truncate shortens s to max runes followed by TruncatedSuffix.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + TruncatedSuffix
}
