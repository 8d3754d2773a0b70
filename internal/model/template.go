package model

import (
	"context"
	"strings"
)

// Template wraps prompts in a model family's instruction tokens.
type Template struct {
	Name string

	// Format builds the model-facing prompt. system may be empty.
	Format func(system, user string) string

	// Parse strips template tokens from model output.
	Parse func(output string) string

	// Stop is the end-of-turn token added to stop sequences.
	Stop string
}

const (
	gemmaStartTurn = "<start_of_turn>"
	gemmaEndTurn   = "<end_of_turn>"
	gemmaUserTurn  = gemmaStartTurn + "user\n"
	gemmaModelTurn = gemmaStartTurn + "model\n"

	chatMLStart     = "<|im_start|>"
	chatMLEnd       = "<|im_end|>"
	chatMLAssistant = chatMLStart + "assistant\n"
)

// Gemma is the Gemma-family turn template. Gemma has no system role, so
// the system text leads the user turn.
var Gemma = Template{
	Name: "gemma",
	Format: func(system, user string) string {
		content := user
		if system != "" {
			content = system + "\n\n" + user
		}
		return gemmaUserTurn + content + gemmaEndTurn + "\n" + gemmaModelTurn
	},
	Parse: ParseGemmaResponse,
	Stop:  gemmaEndTurn,
}

// ChatML is the <|im_start|> template used by Qwen and similar models.
var ChatML = Template{
	Name: "chatml",
	Format: func(system, user string) string {
		var sb strings.Builder
		if system != "" {
			sb.WriteString(chatMLStart + "system\n" + system + chatMLEnd + "\n")
		}
		sb.WriteString(chatMLStart + "user\n" + user + chatMLEnd + "\n")
		sb.WriteString(chatMLAssistant)
		return sb.String()
	},
	Parse: func(output string) string {
		return stripTurnTokens(output, chatMLAssistant, chatMLStart, chatMLEnd, "assistant\n", "user\n")
	},
	Stop: chatMLEnd,
}

// TemplateByName looks up a template by name.
func TemplateByName(name string) (Template, bool) {
	switch strings.ToLower(name) {
	case "gemma":
		return Gemma, true
	case "chatml":
		return ChatML, true
	default:
		return Template{}, false
	}
}

// FormatGemmaPrompt wraps prompt in Gemma turn tokens, splitting out an
// embedded system preamble first.
func FormatGemmaPrompt(prompt string) string {
	system, user := SplitSystemPrompt(prompt)
	return Gemma.Format(system, user)
}

// ParseGemmaResponse strips Gemma turn tokens and a leading role line.
func ParseGemmaResponse(output string) string {
	return stripTurnTokens(output, gemmaModelTurn, gemmaStartTurn, gemmaEndTurn, "model\n", "user\n")
}

// stripTurnTokens keeps the text after the last assistant turn marker and
// before the next end token, then removes stray start tokens and role lines.
func stripTurnTokens(output, assistantTurn, start, end string, roles ...string) string {
	s := output
	if i := strings.LastIndex(s, assistantTurn); i >= 0 {
		s = s[i+len(assistantTurn):]
	}
	if i := strings.Index(s, end); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, start, "")
	s = strings.TrimSpace(s)
	for _, role := range roles {
		if strings.HasPrefix(s, role) {
			s = strings.TrimSpace(strings.TrimPrefix(s, role))
			break
		}
	}
	return s
}

// SplitSystemPrompt separates an embedded system preamble from the user
// part of a prompt. The rules are tried in order:
//
//  1. starts with "You are" and has a "Question:" line: split at the last
//     such line
//  2. more than 10 lines and a "Question:", "User Request:" or "Request:"
//     line: split at the first such line
//  3. mentions "available tools:" and "format:": everything except the
//     final non-example line is system; that line becomes "Question: ..."
//
// Otherwise system is empty and user is the whole prompt.
func SplitSystemPrompt(prompt string) (system, user string) {
	lines := strings.Split(prompt, "\n")

	if strings.HasPrefix(strings.TrimSpace(prompt), "You are") {
		if i := lastLineWithPrefix(lines, "Question:"); i > 0 {
			return joinTrim(lines[:i]), joinTrim(lines[i:])
		}
	}

	if len(lines) > 10 {
		if i := firstLineWithPrefix(lines, "Question:", "User Request:", "Request:"); i > 0 {
			return joinTrim(lines[:i]), joinTrim(lines[i:])
		}
	}

	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "available tools:") && strings.Contains(lower, "format:") {
		for i := len(lines) - 1; i > 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" || isExampleLine(line) {
				continue
			}
			rest := append(append([]string(nil), lines[:i]...), lines[i+1:]...)
			if !strings.HasPrefix(line, "Question:") {
				line = "Question: " + line
			}
			return joinTrim(rest), line
		}
	}

	return "", prompt
}

func firstLineWithPrefix(lines []string, prefixes ...string) int {
	for i, l := range lines {
		t := strings.TrimSpace(l)
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				return i
			}
		}
	}
	return -1
}

func lastLineWithPrefix(lines []string, prefix string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), prefix) {
			return i
		}
	}
	return -1
}

func isExampleLine(line string) bool {
	for _, p := range []string{"Example", "Thought:", "Action:", "Observation:", "Answer:", "PAUSE", "- "} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func joinTrim(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ============================================================
// TemplateProvider
// ============================================================

// TemplateProvider decorates a provider with chat-template wrapping so
// that callers can stay template-agnostic.
type TemplateProvider struct {
	inner Provider
	tmpl  Template
}

// NewTemplateProvider wraps inner with tmpl.
func NewTemplateProvider(inner Provider, tmpl Template) *TemplateProvider {
	return &TemplateProvider{inner: inner, tmpl: tmpl}
}

// Inner returns the wrapped provider.
func (t *TemplateProvider) Inner() Provider { return t.inner }

func (t *TemplateProvider) Name() string                         { return t.inner.Name() }
func (t *TemplateProvider) IsLocal() bool                        { return t.inner.IsLocal() }
func (t *TemplateProvider) IsReady() bool                        { return t.inner.IsReady() }
func (t *TemplateProvider) Status(ctx context.Context) Status    { return t.inner.Status(ctx) }
func (t *TemplateProvider) Initialize(ctx context.Context) error { return t.inner.Initialize(ctx) }
func (t *TemplateProvider) Cleanup(ctx context.Context) error    { return t.inner.Cleanup(ctx) }

// ModelInfo adds the template name to the inner model info.
func (t *TemplateProvider) ModelInfo() ModelInfo {
	return t.inner.ModelInfo().WithMetadata("chat_template", t.tmpl.Name)
}

// Capabilities adds chat_template to the inner capabilities.
func (t *TemplateProvider) Capabilities() []string {
	return append(append([]string(nil), t.inner.Capabilities()...), CapChatTemplate)
}

// ValidatePrompt validates the prompt as it will be sent.
func (t *TemplateProvider) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return t.inner.ValidatePrompt(prompt)
	}
	return t.inner.ValidatePrompt(t.format(prompt))
}

// Generate wraps the prompt, generates, and strips the template tokens.
func (t *TemplateProvider) Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error) {
	var o GenerationOptions
	if opts != nil {
		o = *opts
		o.StopSequences = append([]string(nil), opts.StopSequences...)
	}
	if t.tmpl.Stop != "" {
		o.StopSequences = append(o.StopSequences, t.tmpl.Stop)
	}

	out, err := t.inner.Generate(ctx, t.format(prompt), &o)
	if err != nil {
		return "", err
	}
	return t.tmpl.Parse(out), nil
}

func (t *TemplateProvider) format(prompt string) string {
	system, user := SplitSystemPrompt(prompt)
	return t.tmpl.Format(system, user)
}
