package classifier

import (
	"regexp"
	"strings"
)

// IntentPattern maps a family of phrasings to a tool.
type IntentPattern struct {
	ID         string
	Tool       string
	Keywords   []string
	Regex      *regexp.Regexp
	Confidence float64
}

// Matches checks if the pattern matches the given message.
func (p *IntentPattern) Matches(message string) bool {
	msg := strings.ToLower(message)

	if len(p.Keywords) > 0 {
		hit := false
		for _, kw := range p.Keywords {
			if strings.Contains(msg, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if p.Regex != nil {
		return p.Regex.MatchString(msg)
	}
	return true
}

// defaultPatterns returns the built-in task and timer phrasings.
// Order matters only for ties: more specific patterns come first.
func defaultPatterns() []*IntentPattern {
	return []*IntentPattern{
		// ============================================================
		// TIMER PATTERNS
		// ============================================================
		{
			ID:         "timer_active",
			Tool:       "get_active_timer",
			Keywords:   []string{"timer", "tracking", "running"},
			Regex:      regexp.MustCompile(`(?i)(is|what|which|any).*(timer|tracking).*(running|active|on)|current timer`),
			Confidence: 0.9,
		},
		{
			ID:         "timer_start",
			Tool:       "start_timer",
			Keywords:   []string{"start", "begin", "track", "resume"},
			Regex:      regexp.MustCompile(`(?i)(start|begin|resume)\s.*(timer|tracking|working|session)|track (time|my time)`),
			Confidence: 0.9,
		},
		{
			ID:         "timer_stop",
			Tool:       "stop_timer",
			Keywords:   []string{"stop", "pause", "end", "finish"},
			Regex:      regexp.MustCompile(`(?i)(stop|pause|end|finish)\s.*(timer|tracking|session)`),
			Confidence: 0.9,
		},
		{
			ID:         "time_stats",
			Tool:       "get_time_stats",
			Keywords:   []string{"how much time", "how long", "hours", "time spent", "stats", "statistics", "productivity"},
			Regex:      regexp.MustCompile(`(?i)(how much time|how long|hours|time spent|stats|statistics|productivity)`),
			Confidence: 0.85,
		},

		// ============================================================
		// TASK PATTERNS
		// ============================================================
		{
			ID:         "task_create",
			Tool:       "create_task",
			Keywords:   []string{"add", "create", "new", "remind"},
			Regex:      regexp.MustCompile(`(?i)(add|create|new|remind).*(task|todo|reminder)`),
			Confidence: 0.9,
		},
		{
			ID:         "task_complete",
			Tool:       "complete_task",
			Keywords:   []string{"complete", "done", "finish", "mark", "check off"},
			Regex:      regexp.MustCompile(`(?i)(complete|finish|check off|mark).*(task|todo|done|complete)|(task|todo).*(is )?(done|finished)`),
			Confidence: 0.85,
		},
		{
			ID:         "task_delete",
			Tool:       "delete_task",
			Keywords:   []string{"delete", "remove", "drop", "cancel"},
			Regex:      regexp.MustCompile(`(?i)(delete|remove|drop|cancel).*(task|todo)`),
			Confidence: 0.9,
		},
		{
			ID:         "task_update",
			Tool:       "update_task",
			Keywords:   []string{"update", "change", "rename", "edit", "set", "move"},
			Regex:      regexp.MustCompile(`(?i)(update|change|rename|edit|set|move).*(task|todo|priority|status|title)`),
			Confidence: 0.8,
		},
		{
			ID:         "task_list",
			Tool:       "get_tasks",
			Keywords:   []string{"show", "list", "what", "my tasks", "pending", "todo"},
			Regex:      regexp.MustCompile(`(?i)(show|list|what|which|any|see).*(task|todo)|my tasks|tasks for`),
			Confidence: 0.85,
		},
	}
}
