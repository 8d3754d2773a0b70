// Package cost tracks token usage split between local and cloud providers.
package cost

import (
	"sort"
	"sync"
	"time"
)

// EstimateTokens approximates a token count from text length
// (about four characters per token for English text).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Tracker accumulates usage per provider for the current day.
type Tracker struct {
	mu sync.Mutex

	rates map[string]float64 // USD per 1M tokens by provider
	day   string
	usage map[string]*ProviderUsage
	now   func() time.Time
}

// ProviderUsage is the usage of one provider.
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Local        bool    `json:"local"`
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Summary is a snapshot of the day's usage.
type Summary struct {
	Date        string          `json:"date"`
	Providers   []ProviderUsage `json:"providers"`
	LocalTokens int             `json:"local_tokens"`
	CloudTokens int             `json:"cloud_tokens"`
	CloudCost   float64         `json:"cloud_cost"`
	Requests    int             `json:"requests"`
	LocalRate   float64         `json:"local_rate"` // Percentage of requests handled locally
}

// NewTracker creates a new usage tracker.
func NewTracker() *Tracker {
	t := &Tracker{
		rates: make(map[string]float64),
		usage: make(map[string]*ProviderUsage),
		now:   time.Now,
	}
	t.day = t.now().Format("2006-01-02")
	return t
}

// SetRate sets the price per million tokens for a cloud provider.
func (t *Tracker) SetRate(provider string, usdPerMillion float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[provider] = usdPerMillion
}

// Record records one successful generation.
func (t *Tracker) Record(provider string, isLocal bool, inputTokens, outputTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	u, ok := t.usage[provider]
	if !ok {
		u = &ProviderUsage{Provider: provider, Local: isLocal}
		t.usage[provider] = u
	}
	u.Requests++
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	if !isLocal {
		u.Cost += float64(inputTokens+outputTokens) / 1_000_000 * t.rates[provider]
	}
}

// Summary returns the current day's usage.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	s := Summary{Date: t.day}
	localRequests := 0
	for _, u := range t.usage {
		s.Providers = append(s.Providers, *u)
		tokens := u.InputTokens + u.OutputTokens
		if u.Local {
			s.LocalTokens += tokens
			localRequests += u.Requests
		} else {
			s.CloudTokens += tokens
			s.CloudCost += u.Cost
		}
		s.Requests += u.Requests
	}
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].Provider < s.Providers[j].Provider })

	if s.Requests > 0 {
		s.LocalRate = float64(localRequests) / float64(s.Requests) * 100
	}
	return s
}

// rollover resets counters when the day changes. Must hold mu.
func (t *Tracker) rollover() {
	today := t.now().Format("2006-01-02")
	if today != t.day {
		t.day = today
		t.usage = make(map[string]*ProviderUsage)
	}
}
