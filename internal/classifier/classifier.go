// Package classifier extracts structure from free-form task requests.
//
// Two layers:
// 1. Rule-based intent patterns that map phrasings to tools
// 2. Field extractors (dates, priorities, statuses, task ids, titles)
//
// Everything here is deterministic and cheap; the model still chooses the
// action. The results seed tool suggestions and argument inference.
package classifier

import (
	"sort"
	"strings"
)

// Match is one tool a message plausibly asks for.
type Match struct {
	Tool       string  `json:"tool"`
	PatternID  string  `json:"pattern_id"`
	Confidence float64 `json:"confidence"` // 0-1
}

// Classifier matches messages against intent patterns.
type Classifier struct {
	patterns []*IntentPattern
}

// NewClassifier creates a classifier with the built-in patterns.
func NewClassifier() *Classifier {
	return &Classifier{patterns: defaultPatterns()}
}

// Classify returns every matching tool, highest confidence first. A tool
// appears at most once, with its best pattern.
func (c *Classifier) Classify(message string) []Match {
	msg := strings.ToLower(message)

	best := make(map[string]Match)
	for _, p := range c.patterns {
		if !p.Matches(msg) {
			continue
		}
		if cur, ok := best[p.Tool]; !ok || p.Confidence > cur.Confidence {
			best[p.Tool] = Match{Tool: p.Tool, PatternID: p.ID, Confidence: p.Confidence}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Tool < matches[j].Tool
	})
	return matches
}

// Confidence returns the best pattern confidence for tool, or 0.
func (c *Classifier) Confidence(message, tool string) float64 {
	for _, m := range c.Classify(message) {
		if m.Tool == tool {
			return m.Confidence
		}
	}
	return 0
}

// SetPatterns replaces the intent patterns.
func (c *Classifier) SetPatterns(patterns []*IntentPattern) {
	c.patterns = patterns
}

// AddPattern adds a new intent pattern.
func (c *Classifier) AddPattern(pattern *IntentPattern) {
	c.patterns = append(c.patterns, pattern)
}
