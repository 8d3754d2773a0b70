package classifier

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout is the wire format of inferred dates.
const DateLayout = "2006-01-02"

var (
	wordRegex   = regexp.MustCompile(`[a-z0-9_']+`)
	isoDate     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	uuidRegex   = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	taskIDRegex = regexp.MustCompile(`(?i)\b(?:task|todo|id)\s*(?:id\s*)?[#:]?\s*([a-z0-9_-]*\d[a-z0-9_-]*)\b`)
	hashIDRegex = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)

	quoted = regexp.MustCompile(`["“](.+?)["”]`)
)

// TitlePattern captures a task title from "create task: Review PR" or
// "add a new task Buy milk".
var TitlePattern = regexp.MustCompile(`(?i)\b(?:create|add|new)\s+(?:a\s+)?(?:new\s+)?(?:task|todo)\s*(?:called|named|titled)?\s*:?\s*(.+)$`)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "me": true, "i": true,
	"for": true, "to": true, "of": true, "on": true, "in": true, "at": true,
	"is": true, "are": true, "and": true, "or": true, "with": true, "please": true,
	"can": true, "you": true, "what": true, "do": true, "have": true, "it": true,
	"this": true, "that": true, "all": true, "any": true,
}

// Words lowercases message and splits it into word tokens.
func Words(message string) []string {
	return wordRegex.FindAllString(strings.ToLower(message), -1)
}

// Keywords returns the stemmed content words of message, in order, without
// duplicates.
func Keywords(message string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range Words(message) {
		w = stem(strings.TrimSuffix(w, "'s"))
		if w == "" || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Overlap returns the share of message keywords found in vocabulary, in [0,1].
func Overlap(message string, vocabulary ...string) float64 {
	words := Keywords(message)
	if len(words) == 0 {
		return 0
	}

	vocab := make(map[string]bool)
	for _, v := range vocabulary {
		for _, k := range Keywords(strings.ReplaceAll(v, "_", " ")) {
			vocab[k] = true
		}
	}

	hits := 0
	for _, w := range words {
		if vocab[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

// ExtractDate resolves the first date reference in message against now.
// ISO literals win over relative words; weekday names resolve to the
// upcoming occurrence (today included) unless preceded by "last", or to
// the following week's when preceded by "next".
func ExtractDate(message string, now time.Time) (string, bool) {
	if m := isoDate.FindStringSubmatch(message); m != nil {
		if _, err := time.Parse(DateLayout, m[1]); err == nil {
			return m[1], true
		}
	}

	words := Words(message)
	for i, w := range words {
		switch w {
		case "today", "today's", "tonight":
			return now.Format(DateLayout), true
		case "yesterday", "yesterday's":
			return now.AddDate(0, 0, -1).Format(DateLayout), true
		case "tomorrow", "tomorrow's":
			return now.AddDate(0, 0, 1).Format(DateLayout), true
		}

		wd, ok := weekdays[strings.TrimSuffix(w, "'s")]
		if !ok {
			continue
		}
		prev := ""
		if i > 0 {
			prev = words[i-1]
		}
		return resolveWeekday(now, wd, prev).Format(DateLayout), true
	}
	return "", false
}

func resolveWeekday(now time.Time, wd time.Weekday, qualifier string) time.Time {
	diff := (int(wd) - int(now.Weekday()) + 7) % 7
	switch qualifier {
	case "last":
		back := (int(now.Weekday()) - int(wd) + 7) % 7
		if back == 0 {
			back = 7
		}
		return now.AddDate(0, 0, -back)
	case "next":
		if diff == 0 {
			diff = 7
		}
	}
	return now.AddDate(0, 0, diff)
}

// ExtractPriority finds low, medium, high or urgent.
func ExtractPriority(message string) (string, bool) {
	for _, w := range Words(message) {
		switch w {
		case "low", "medium", "high", "urgent":
			return w, true
		case "normal":
			return "medium", true
		case "critical", "asap":
			return "urgent", true
		}
	}
	return "", false
}

// ExtractStatus finds pending, in_progress or completed, accepting the
// usual spellings.
func ExtractStatus(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, s := range []string{"in progress", "in-progress", "in_progress", "ongoing", "started"} {
		if strings.Contains(lower, s) {
			return "in_progress", true
		}
	}
	for _, w := range Words(lower) {
		switch w {
		case "pending", "todo", "open", "outstanding", "incomplete", "unfinished":
			return "pending", true
		case "completed", "complete", "done", "finished":
			return "completed", true
		}
	}
	return "", false
}

// ExtractTaskID finds an explicit task id: a UUID, "task 12", "task #abc1"
// or a bare "#id".
func ExtractTaskID(message string) (string, bool) {
	if m := uuidRegex.FindString(message); m != "" {
		return m, true
	}
	if m := taskIDRegex.FindStringSubmatch(message); m != nil {
		return m[1], true
	}
	if m := hashIDRegex.FindStringSubmatch(message); m != nil {
		return m[1], true
	}
	return "", false
}

// ExtractTitle pulls a task title using TitlePattern or, failing that,
// the first quoted phrase.
func ExtractTitle(message string) (string, bool) {
	if title, ok := ExtractPattern(strings.TrimSpace(message), TitlePattern); ok {
		return title, true
	}
	return ExtractQuoted(message)
}

// ExtractQuoted returns the first double-quoted phrase.
func ExtractQuoted(message string) (string, bool) {
	if m := quoted.FindStringSubmatch(message); m != nil {
		if v := cleanTitle(m[1]); v != "" {
			return v, true
		}
	}
	return "", false
}

// ExtractPattern applies a tool-declared pattern and returns its first
// capture group, or the whole match when there is none.
func ExtractPattern(message string, re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	v := m[0]
	if len(m) > 1 {
		v = m[1]
	}
	v = cleanTitle(v)
	return v, v != ""
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'“”`)
	s = strings.TrimRight(s, ".!?")
	return strings.TrimSpace(s)
}
