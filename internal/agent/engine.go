// Package agent runs the ReAct reasoning loop: it prompts the model,
// parses thoughts and actions, executes tools and records every step in a
// protocol.ReActChain.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/model"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/prompt"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Iteration limits.
const (
	DefaultMaxIterations = 5
	MaxIterationsLimit   = 10
)

// Generation limits applied to every turn.
const (
	MaxTemperature = 0.7
	MaxTokens      = 2048
)

// StopSequences end a turn once the model has asked for a tool.
var StopSequences = []string{"PAUSE", "\nObservation:"}

const malformedAction = "malformed action"

// LLM generates text. *model.Manager satisfies it.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts *model.GenerationOptions) (string, error)
	ModelInfo() model.ModelInfo
}

// Tools executes tool calls. *tools.Registry satisfies it.
type Tools interface {
	Definitions() []protocol.ToolDefinition
	ExecuteTool(ctx context.Context, name string, args map[string]any, tc protocol.ToolContext) protocol.ToolResult
}

// ChainLogger persists chains. *interaction.Logger satisfies it.
type ChainLogger interface {
	LogReActChain(ctx context.Context, chain *protocol.ReActChain, info model.ModelInfo) error
	LogReActStep(ctx context.Context, chainID string, step protocol.ReActStep, info model.ModelInfo) error
	LogReActPerformance(ctx context.Context, chain *protocol.ReActChain, info model.ModelInfo) error
	LogRawLLMInteraction(ctx context.Context, sessionID string, turn int, prompt, response string, info model.ModelInfo, durationMs int64) error
}

// Config configures an Engine.
type Config struct {
	// MaxIterations bounds the non-answer turns of a chain (default 5,
	// at most 10).
	MaxIterations int

	// TurnTimeout bounds a single model call (default 60s).
	TurnTimeout time.Duration

	Temperature float64
	MaxTokens   int

	// Retry applies to recoverable provider errors (default
	// errors.DefaultPolicy).
	Retry *errors.Policy

	PromptMode prompt.Mode

	Stats  *stats.Collector
	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		TurnTimeout:   60 * time.Second,
		Temperature:   MaxTemperature,
		MaxTokens:     1024,
		Retry:         errors.DefaultPolicy(),
		PromptMode:    prompt.ModeFull,
		Logger:        zerolog.Nop(),
		Now:           time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxIterations > MaxIterationsLimit {
		c.MaxIterations = MaxIterationsLimit
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.Temperature <= 0 || c.Temperature > MaxTemperature {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxTokens > MaxTokens {
		c.MaxTokens = MaxTokens
	}
	if c.Retry == nil {
		c.Retry = d.Retry
	}
	if c.PromptMode == "" {
		c.PromptMode = d.PromptMode
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Engine drives ReAct chains. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	cfg    Config
	llm    LLM
	tools  Tools
	logger ChainLogger
	log    zerolog.Logger
}

// NewEngine returns an engine. tools and logger may be nil.
func NewEngine(llm LLM, tools Tools, logger ChainLogger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:    cfg,
		llm:    llm,
		tools:  tools,
		logger: logger,
		log:    cfg.Logger.With().Str("component", "agent").Logger(),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Request is one user turn with the conversation state around it.
type Request struct {
	Message              string
	History              []string
	ActiveTaskID         string
	ActiveTimerSessionID string
	RecentTaskIDs        []string // most recent first
	Preferences          map[string]any
}

// ProcessRequest runs a chain for a bare user message with default
// settings. Pass untyped nil, not a typed nil pointer, for an absent
// registry or logger.
func ProcessRequest(ctx context.Context, userRequest string, llm LLM, registry Tools, logger ChainLogger) *protocol.ReActChain {
	return NewEngine(llm, registry, logger, Config{}).ProcessRequest(ctx, userRequest)
}

// ProcessRequest runs a chain for a bare user message.
func (e *Engine) ProcessRequest(ctx context.Context, userRequest string) *protocol.ReActChain {
	return e.Run(ctx, Request{Message: userRequest})
}

// Run executes one chain. It always returns a chain: failures end in an
// error step with a user-facing FinalResponse.
func (e *Engine) Run(ctx context.Context, req Request) *protocol.ReActChain {
	r := e.newRun(req)
	r.log.Debug().Str("request", req.Message).Msg("chain started")

	var defs []protocol.ToolDefinition
	if e.tools != nil {
		defs = e.tools.Definitions()
	}
	builder := prompt.NewBuilder(e.cfg.PromptMode, defs)
	builder.Now = e.cfg.Now
	initial := builder.Initial(req.Message, req.History)

	var (
		turns      []prompt.Turn
		repairUsed bool
		turn       int
	)

	for r.chain.Iterations < e.cfg.MaxIterations {
		turn++
		text := initial
		if len(turns) > 0 {
			text = builder.Continue(initial, turns)
		}

		resp, took, err := e.generate(ctx, text)
		r.llmTime += took
		if err != nil {
			if ctx.Err() != nil {
				return e.abort(r, ctx.Err())
			}
			if errors.IsAborted(err) {
				return e.abort(r, err)
			}
			if errors.KindOf(err) == errors.KindTimeout && r.last != nil {
				r.log.Warn().Err(err).Msg("turn timed out; answering from last observation")
				return e.finish(ctx, r.degrade("turn timeout"))
			}
			return e.finish(ctx, r.fail(err))
		}
		e.logRaw(ctx, r, turn, text, resp, took)

		parsed := ParseResponse(resp)
		switch {
		case parsed.HasAnswer:
			if parsed.Thought != "" {
				r.add(protocol.StepThought, parsed.Thought, took)
			}
			r.answer(parsed.Answer, took)
			return e.finish(ctx, r)

		case parsed.Action != nil:
			r.chain.Iterations++
			if parsed.Thought != "" {
				r.add(protocol.StepThought, parsed.Thought, took)
			}
			obs := e.act(ctx, r, parsed.Action, took)
			if ctx.Err() != nil {
				return e.abort(r, ctx.Err())
			}
			turns = append(turns, prompt.Turn{Response: resp, Observation: obs})

		case parsed.Malformed && !repairUsed:
			repairUsed = true
			r.chain.Iterations++
			if parsed.Thought != "" {
				r.add(protocol.StepThought, parsed.Thought, took)
			}
			r.add(protocol.StepError, malformedAction, 0)
			turns = append(turns, prompt.Turn{
				Response:    resp,
				Observation: "Error: malformed action. Use Action: <tool_name>: <json object of arguments>",
			})

		default:
			r.chain.Iterations++
			content := parsed.Thought
			if content == "" {
				content = strings.TrimSpace(resp)
			}
			if content != "" {
				r.add(protocol.StepThought, content, took)
			}
			turns = append(turns, prompt.Turn{Response: resp})
		}
	}

	r.log.Info().Int("iterations", r.chain.Iterations).Msg("iteration limit reached")
	return e.finish(ctx, r.degrade("iteration limit"))
}

// generate calls the model under the turn timeout, retrying recoverable
// errors.
func (e *Engine) generate(ctx context.Context, text string) (string, time.Duration, error) {
	opts := &model.GenerationOptions{
		MaxTokens:     e.cfg.MaxTokens,
		Temperature:   e.cfg.Temperature,
		StopSequences: StopSequences,
	}

	start := time.Now()
	resp, err := errors.DoWithResult(ctx, e.cfg.Retry, func() (string, error) {
		turnCtx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
		defer cancel()

		out, err := e.llm.Generate(turnCtx, text, opts)
		if err != nil && turnCtx.Err() != nil && ctx.Err() == nil {
			return "", errors.FromContext(turnCtx.Err())
		}
		return out, err
	})
	return resp, time.Since(start), err
}

// act records the action, runs the tool and records the observation. It
// returns the observation text for the next prompt.
func (e *Engine) act(ctx context.Context, r *run, action *ParsedAction, took time.Duration) string {
	call := &protocol.ToolCall{ID: uuid.NewString(), Name: action.Name, Args: action.Args}
	step := r.add(protocol.StepAction, action.Name, took)
	step.ToolCall = call
	if action.Repaired {
		step.Metadata = map[string]any{"repaired": true}
	}
	e.logStep(ctx, r, *step)

	var res protocol.ToolResult
	if e.tools == nil {
		err := errors.NewBuilder(errors.KindNotFound, "no tools are available").
			WithContext("tool", action.Name).
			Build()
		res = protocol.ToolResult{Success: false, Message: errors.UserMessage(err), Error: err.Error()}
	} else {
		res = e.tools.ExecuteTool(ctx, action.Name, action.Args, r.toolCtx)
	}

	obs := FormatObservation(res)
	o := r.add(protocol.StepObservation, obs, time.Duration(res.ExecutionTimeMs)*time.Millisecond)
	o.ToolResult = &res
	e.logStep(ctx, r, *o)

	r.last = &lastAction{call: *call, result: res, summary: obs}
	noteTask(&r.toolCtx, res)

	r.log.Debug().
		Str("tool", action.Name).
		Bool("success", res.Success).
		Int64("duration_ms", res.ExecutionTimeMs).
		Msg("tool executed")
	return obs
}

// abort ends the chain when the caller's context is done. A caller
// deadline is an abort too, not a provider timeout.
func (e *Engine) abort(r *run, cause error) *protocol.ReActChain {
	err := cause
	if !errors.IsAborted(cause) {
		err = errors.Wrap(cause, errors.KindAborted, "request cancelled")
	}
	r.add(protocol.StepError, err.Error(), 0)
	r.chain.FinalResponse = errors.UserMessage(err)
	r.chain.Metadata["aborted"] = true
	r.close()
	r.log.Info().Msg("chain aborted")
	return r.chain
}

// finish closes the chain and hands it to the logger and stats.
func (e *Engine) finish(ctx context.Context, r *run) *protocol.ReActChain {
	r.close()
	chain := r.chain

	if e.cfg.Stats != nil {
		e.cfg.Stats.RecordChain(chain)
	}
	if e.logger != nil {
		info := e.llm.ModelInfo()
		if err := e.logger.LogReActChain(ctx, chain, info); err != nil {
			r.log.Warn().Err(err).Msg("failed to log chain")
		}
		if err := e.logger.LogReActPerformance(ctx, chain, info); err != nil {
			r.log.Warn().Err(err).Msg("failed to log chain performance")
		}
	}

	ev := r.log.Info()
	if chain.Failed() {
		ev = r.log.Warn()
	}
	ev.Bool("completed", chain.Completed).
		Int("iterations", chain.Iterations).
		Int("steps", len(chain.Steps)).
		Int64("duration_ms", chain.TotalDurationMs).
		Msg("chain finished")
	return chain
}

func (e *Engine) logStep(ctx context.Context, r *run, step protocol.ReActStep) {
	if e.logger == nil {
		return
	}
	if err := e.logger.LogReActStep(ctx, r.chain.ID, step, e.llm.ModelInfo()); err != nil {
		r.log.Debug().Err(err).Msg("failed to log step")
	}
}

func (e *Engine) logRaw(ctx context.Context, r *run, turn int, text, resp string, took time.Duration) {
	if e.logger == nil {
		return
	}
	if err := e.logger.LogRawLLMInteraction(ctx, r.chain.ID, turn, text, resp, e.llm.ModelInfo(), took.Milliseconds()); err != nil {
		r.log.Debug().Err(err).Msg("failed to log model call")
	}
}
