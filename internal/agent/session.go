package agent

import (
	"context"
	"sync"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/prompt"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Session carries conversation state across chains: the last few
// exchanged lines and the tasks and timer the user touched most recently.
type Session struct {
	engine *Engine

	mu      sync.Mutex
	history []string
	toolCtx protocol.ToolContext
}

// NewSession starts an empty conversation on e.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// Ask runs one chain for message and folds its results into the session.
func (s *Session) Ask(ctx context.Context, message string) *protocol.ReActChain {
	s.mu.Lock()
	req := Request{
		Message:              message,
		History:              append([]string(nil), s.history...),
		ActiveTaskID:         s.toolCtx.ActiveTaskID,
		ActiveTimerSessionID: s.toolCtx.ActiveTimerSessionID,
		RecentTaskIDs:        append([]string(nil), s.toolCtx.RecentTaskIDs...),
	}
	s.mu.Unlock()

	chain := s.engine.Run(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if aborted, _ := chain.Metadata["aborted"].(bool); aborted {
		return chain
	}
	for _, res := range chain.ToolResults() {
		noteTask(&s.toolCtx, res)
	}
	s.history = append(s.history, "User: "+message, "Assistant: "+chain.FinalResponse)
	if n := len(s.history); n > prompt.MaxHistory {
		s.history = append([]string(nil), s.history[n-prompt.MaxHistory:]...)
	}
	return chain
}

// RecentTaskIDs returns the tasks touched in this session, most recent
// first.
func (s *Session) RecentTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.toolCtx.RecentTaskIDs...)
}

// ActiveTimerSessionID returns the timer session started in this
// conversation, if it is still running.
func (s *Session) ActiveTimerSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolCtx.ActiveTimerSessionID
}

// History returns the conversation lines carried into the next prompt.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.toolCtx = protocol.ToolContext{}
}
