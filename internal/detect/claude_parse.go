package detect

import (
	"strings"

	"github.com/groblegark/coop-sub001/internal/agentstate"
)

// claudeEntry is the subset of a Claude session-log / stdout JSONL entry
// this parser needs. Fields are agent-defined (§6.3); everything else is
// ignored.
type claudeEntry struct {
	Type          string         `json:"type"`
	Error         *string        `json:"error"`
	ToolUseResult *string        `json:"toolUseResult"`
	Message       *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type  string         `json:"type"`
	Name  string         `json:"name"`
	Text  string         `json:"text"`
	Input map[string]any `json:"input"`
}

const interruptedSentinel = "[Request interrupted by user]"

// parseClaudeState classifies one JSONL entry into an agent state, or
// returns ok=false if the entry carries no meaningful state signal
// (non-user/non-assistant types are intentionally ignored — I5/§9 open
// question: porters should resist "completing" these match arms).
func parseClaudeState(e claudeEntry) (agentstate.State, bool) {
	if e.Error != nil {
		return agentstate.WithError(agentstate.ErrorInfo{Detail: *e.Error}), true
	}

	switch e.Type {
	case "user":
		if isUserInterrupt(e) {
			return agentstate.Simple(agentstate.Idle), true
		}
		return agentstate.Simple(agentstate.Working), true

	case "assistant":
		if e.Message == nil {
			return agentstate.State{}, false
		}
		for _, block := range e.Message.Content {
			switch block.Type {
			case "tool_use":
				if block.Name == "AskUserQuestion" {
					return agentstate.WithPrompt(extractAskUserContext(block)), true
				}
				return agentstate.Simple(agentstate.Working), true
			case "thinking":
				return agentstate.Simple(agentstate.Working), true
			}
		}
		return agentstate.Simple(agentstate.Idle), true

	default:
		// progress, system, file-history-snapshot, etc. — session metadata,
		// not an agent state signal.
		return agentstate.State{}, false
	}
}

func isUserInterrupt(e claudeEntry) bool {
	if e.ToolUseResult != nil && *e.ToolUseResult == "User rejected tool use" {
		return true
	}
	if e.Message == nil {
		return false
	}
	for _, b := range e.Message.Content {
		if b.Type == "text" && strings.Contains(b.Text, interruptedSentinel) {
			return true
		}
	}
	return false
}

// formatClaudeCause builds the cause string attached to a sample, mirroring
// parseClaudeState's classification but independent of it (the cause is
// diagnostic text, not load-bearing).
func formatClaudeCause(e claudeEntry, prefix string) string {
	if e.Error != nil {
		return prefix + ":error"
	}
	if e.Type != "assistant" {
		if e.Type == "user" {
			return prefix + ":user"
		}
		return prefix + ":working"
	}
	if e.Message == nil {
		return prefix + ":idle"
	}
	for _, block := range e.Message.Content {
		switch block.Type {
		case "tool_use":
			name := block.Name
			if name == "" {
				name = "unknown"
			}
			return prefix + ":tool(" + name + ")"
		case "thinking":
			return prefix + ":thinking"
		}
	}
	return prefix + ":idle"
}

// extractAssistantText concatenates text blocks from an assistant entry,
// for the shared last_message cell. Returns ok=false for non-assistant
// entries or assistant messages with no text blocks — callers must not
// clear the existing value in that case.
func extractAssistantText(e claudeEntry) (string, bool) {
	if e.Type != "assistant" || e.Message == nil {
		return "", false
	}
	var parts []string
	for _, b := range e.Message.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n"))
	if joined == "" {
		return "", false
	}
	return joined, true
}

// extractAskUserContext builds a Prompt{Question} context from an
// AskUserQuestion tool_use block's input.questions[].
func extractAskUserContext(block claudeBlock) agentstate.PromptContext {
	ctx := agentstate.PromptContext{Kind: agentstate.QuestionPrompt, Ready: true}
	raw, ok := block.Input["questions"]
	if !ok {
		return ctx
	}
	items, ok := raw.([]any)
	if !ok {
		return ctx
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q := agentstate.Question{}
		if text, ok := m["question"].(string); ok {
			q.Text = text
		}
		if opts, ok := m["options"].([]any); ok {
			for _, o := range opts {
				if label, ok := labelOf(o); ok {
					q.Options = append(q.Options, label)
				}
			}
		}
		ctx.Questions = append(ctx.Questions, q)
	}
	return ctx
}

func labelOf(o any) (string, bool) {
	switch v := o.(type) {
	case string:
		return v, true
	case map[string]any:
		if label, ok := v["label"].(string); ok {
			return label, true
		}
	}
	return "", false
}
