package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools/executor"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// run is the mutable state of one chain.
type run struct {
	chain   *protocol.ReActChain
	toolCtx protocol.ToolContext
	now     func() time.Time
	log     zerolog.Logger

	llmTime time.Duration
	last    *lastAction
	closed  bool
}

type lastAction struct {
	call    protocol.ToolCall
	result  protocol.ToolResult
	summary string
}

func (e *Engine) newRun(req Request) *run {
	now := e.cfg.Now()
	id := uuid.NewString()
	return &run{
		chain: &protocol.ReActChain{
			ID:          id,
			UserRequest: req.Message,
			Steps:       []protocol.ReActStep{},
			StartedAt:   now,
			Metadata:    map[string]any{},
		},
		toolCtx: protocol.ToolContext{
			UserMessage:          req.Message,
			ConversationHistory:  req.History,
			ActiveTaskID:         req.ActiveTaskID,
			ActiveTimerSessionID: req.ActiveTimerSessionID,
			RecentTaskIDs:        append([]string(nil), req.RecentTaskIDs...),
			CurrentTime:          now,
			UserPreferences:      req.Preferences,
		},
		now: e.cfg.Now,
		log: e.log.With().Str("chain_id", id).Logger(),
	}
}

// add appends a step. Timestamps never go backwards within a chain.
func (r *run) add(kind protocol.StepType, content string, took time.Duration) *protocol.ReActStep {
	ts := r.now()
	if n := len(r.chain.Steps); n > 0 && ts.Before(r.chain.Steps[n-1].Timestamp) {
		ts = r.chain.Steps[n-1].Timestamp
	}
	r.chain.Steps = append(r.chain.Steps, protocol.ReActStep{
		ID:         uuid.NewString(),
		Type:       kind,
		Content:    content,
		Timestamp:  ts,
		DurationMs: took.Milliseconds(),
	})
	return &r.chain.Steps[len(r.chain.Steps)-1]
}

// answer completes the chain. A successful last action with a formatter
// replaces the model's wording; the model's text is kept in metadata.
func (r *run) answer(modelAnswer string, took time.Duration) {
	final := modelAnswer
	var md map[string]any
	if r.last != nil {
		if formatted, ok := FormatAnswer(r.last.call, r.last.result); ok {
			final = formatted
			md = map[string]any{"model_answer": modelAnswer, "formatted": true}
		}
	}
	step := r.add(protocol.StepFinalAnswer, final, took)
	step.Metadata = md
	r.chain.FinalResponse = final
	r.chain.Completed = true
}

// degrade answers from the last observation when the loop ends without
// an answer.
func (r *run) degrade(reason string) *run {
	var final string
	switch {
	case r.last == nil:
		final = "I couldn't finish working on that request. Please try rephrasing it."
	case !r.last.result.Success:
		final = "I couldn't complete that: " + r.last.result.Message
	default:
		if formatted, ok := FormatAnswer(r.last.call, r.last.result); ok {
			final = formatted
		} else {
			final = r.last.summary
		}
	}

	step := r.add(protocol.StepFinalAnswer, final, 0)
	step.Metadata = map[string]any{"degraded": true, "reason": reason}
	r.chain.FinalResponse = final
	r.chain.Completed = true
	r.chain.Metadata["degraded"] = true
	return r
}

// fail ends the chain on a provider error.
func (r *run) fail(err error) *run {
	r.add(protocol.StepError, err.Error(), 0)
	r.chain.FinalResponse = "Sorry, I couldn't complete your request. " + errors.UserMessage(err)
	r.chain.Metadata["error_kind"] = errors.KindOf(err).String()
	return r
}

// noteTask moves a task touched by a tool to the front of RecentTaskIDs so
// later turns can refer to it implicitly. Deleted tasks are forgotten.
func noteTask(tc *protocol.ToolContext, res protocol.ToolResult) {
	if !res.Success {
		return
	}
	var id string
	switch d := res.Data.(type) {
	case executor.DeletedTask:
		forgetTask(tc, d.ID)
		return
	case *executor.Task:
		id = d.ID
	case *executor.TimerSession:
		id = d.TaskID
		if d.Running() {
			tc.ActiveTimerSessionID = d.ID
		} else if tc.ActiveTimerSessionID == d.ID {
			tc.ActiveTimerSessionID = ""
		}
	}
	if id == "" {
		return
	}
	recent := []string{id}
	for _, existing := range tc.RecentTaskIDs {
		if existing != id {
			recent = append(recent, existing)
		}
	}
	tc.RecentTaskIDs = recent
}

func forgetTask(tc *protocol.ToolContext, id string) {
	if id == "" {
		return
	}
	if tc.ActiveTaskID == id {
		tc.ActiveTaskID = ""
	}
	kept := tc.RecentTaskIDs[:0:0]
	for _, existing := range tc.RecentTaskIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	tc.RecentTaskIDs = kept
}

func (r *run) close() {
	if r.closed {
		return
	}
	r.closed = true
	end := r.now()
	if end.Before(r.chain.StartedAt) {
		end = r.chain.StartedAt
	}
	if n := len(r.chain.Steps); n > 0 && end.Before(r.chain.Steps[n-1].Timestamp) {
		end = r.chain.Steps[n-1].Timestamp
	}
	r.chain.CompletedAt = &end
	r.chain.TotalDurationMs = end.Sub(r.chain.StartedAt).Milliseconds()
	r.chain.Metadata["llm_time_ms"] = r.llmTime.Milliseconds()
}
