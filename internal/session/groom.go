// Prompt grooming (component G, spec §4.7): deferred option enrichment
// for prompts whose labels only exist on screen, and auto-dismiss of
// disruption dialogs in groom=auto mode. Ported from original_source
// session/groom.rs; both tasks run detached and bail out the moment the
// state sequence they were spawned for has moved on.
package session

import (
	"context"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/logger"
)

// OptionParser extracts option labels from the current screen lines, or
// nil/empty if none are visible yet.
type OptionParser func(lines []string) []string

// NudgeStep is one unit of structured input delivery: bytes to write,
// optionally followed by a pacing delay before the next step.
type NudgeStep struct {
	Bytes      []byte
	DelayAfter time.Duration // zero means no delay
}

// QuestionAnswer is one answered entry of a multi-question dialog: either
// a picked option number or freeform text.
type QuestionAnswer struct {
	Option *int
	Text   *string
}

// RespondEncoder turns a chosen option, plan decision, or question answer
// set into the keystroke sequence an agent expects (number keys, arrow
// navigation to the freeform field, or plain Enter). Agent-specific
// encoders (Claude Code, Codex, Gemini) each implement this once.
type RespondEncoder interface {
	EncodePermission(option int) []NudgeStep
	EncodeSetup(option int) []NudgeStep
	EncodePlan(option int, feedback *string) []NudgeStep
	EncodeQuestion(answers []QuestionAnswer, totalQuestions int) []NudgeStep
}

// NudgeEncoder turns a freeform nudge message into a paced keystroke
// sequence: the message text, delayed by the pacing formula, then Enter.
type NudgeEncoder interface {
	Encode(message string) []NudgeStep
}

const (
	enrichMaxAttempts  = 10
	enrichPollInterval = 200 * time.Millisecond
)

// disruptionOptions maps a disruption prompt's subtype to its canonical
// "continue" option number. Subtypes absent from this table have no
// canonical continue action and are left for the client to resolve.
var disruptionOptions = map[string]int{
	"settings_error": 1,
	"theme_picker":   1,
	"trust":          1,
	"oauth_login":    1,
}

// disruptionOption returns the canonical continue option for a Setup
// prompt's subtype, if one is known.
func disruptionOption(p agentstate.PromptContext) (int, bool) {
	if p.Kind != agentstate.SetupPrompt {
		return 0, false
	}
	opt, ok := disruptionOptions[p.Subtype]
	return opt, ok
}

// SpawnEnrichment starts the deferred option-enrichment poll for a
// Permission/Plan prompt whose options are not yet ready.
func (s *Store) SpawnEnrichment(ctx context.Context, expectedSeq uint64, parse OptionParser) {
	if parse == nil {
		return
	}
	go s.enrichPromptOptions(ctx, expectedSeq, parse)
}

func (s *Store) enrichPromptOptions(ctx context.Context, expectedSeq uint64, parse OptionParser) {
	for i := 0; i < enrichMaxAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(enrichPollInterval):
		}

		if s.StateSeq() != expectedSeq {
			return
		}

		snap := s.Screen.Snapshot()
		options := parse(snap.Lines)
		if len(options) == 0 {
			continue
		}

		s.stateMu.Lock()
		if s.stateSeq.Load() != expectedSeq {
			s.stateMu.Unlock()
			return
		}
		if s.agentState.Kind == agentstate.Prompt && s.agentState.Prompt != nil &&
			(s.agentState.Prompt.Kind == agentstate.PermissionPrompt || s.agentState.Prompt.Kind == agentstate.PlanPrompt) {
			next := s.agentState
			promptCopy := *next.Prompt
			promptCopy.Options = options
			promptCopy.Ready = true
			next.Prompt = &promptCopy
			s.agentState = next
			s.stateMu.Unlock()
			s.StateBus.Publish(TransitionEvent{
				Prev: next, Next: next, Seq: expectedSeq, Cause: "ready",
				LastMessage: s.LastMessage.Get(),
			})
			return
		}
		s.stateMu.Unlock()
		return
	}

	// Exhausted: fall back to universal Accept/Cancel (Enter/Esc).
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stateSeq.Load() != expectedSeq {
		return
	}
	if s.agentState.Kind != agentstate.Prompt || s.agentState.Prompt == nil {
		return
	}
	if s.agentState.Prompt.Kind != agentstate.PermissionPrompt && s.agentState.Prompt.Kind != agentstate.PlanPrompt {
		return
	}
	logger.Debug("prompt enrichment exhausted, falling back to Accept/Cancel")
	next := s.agentState
	promptCopy := *next.Prompt
	promptCopy.Options = []string{"Accept", "Cancel"}
	promptCopy.OptionsFallback = true
	promptCopy.Ready = true
	next.Prompt = &promptCopy
	s.agentState = next
	s.StateBus.Publish(TransitionEvent{Prev: next, Next: next, Seq: expectedSeq, Cause: "ready", LastMessage: s.LastMessage.Get()})
}

// SpawnAutoDismiss starts auto-dismiss of a disruption prompt when groom
// is set to Auto and the prompt carries a canonical continue option.
func (s *Store) SpawnAutoDismiss(ctx context.Context, prompt agentstate.PromptContext, encoder RespondEncoder, expectedSeq uint64) {
	if s.Config.Groom != GroomAuto {
		return
	}
	option, ok := disruptionOption(prompt)
	if !ok {
		return
	}
	if prompt.Subtype == "settings_error" {
		logger.Warn("auto-dismissing settings error dialog", "option", option)
	}
	if encoder == nil {
		return
	}

	var steps []NudgeStep
	switch {
	case len(prompt.Options) == 0:
		steps = []NudgeStep{{Bytes: []byte("\r")}}
	case prompt.Kind == agentstate.PermissionPrompt:
		steps = encoder.EncodePermission(option)
	default:
		steps = encoder.EncodeSetup(option)
	}

	groomOption := option
	if len(prompt.Options) == 0 {
		groomOption = -1
	}
	go s.autoDismiss(ctx, steps, expectedSeq, prompt.Kind.String(), prompt.Subtype, groomOption)
}

func (s *Store) autoDismiss(ctx context.Context, steps []NudgeStep, expectedSeq uint64, promptKind, promptSubtype string, groomOption int) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.Config.DismissDelay):
	}

	if s.StateSeq() != expectedSeq {
		return
	}
	release := s.Gate.Acquire()
	defer release()
	if s.StateSeq() != expectedSeq {
		return
	}

	for i, step := range steps {
		var preLines []string
		hasMoreDelayedSteps := step.DelayAfter > 0 && i+1 < len(steps)
		if hasMoreDelayedSteps {
			preLines = s.Screen.Snapshot().Lines
		}

		// InputWrite delivers into the backend via the caller-owned input
		// channel; the session loop wires InputTx for this purpose.
		if s.InputTx == nil {
			return
		}
		select {
		case s.InputTx <- InputEvent{Write: step.Bytes}:
		case <-ctx.Done():
			return
		}

		if step.DelayAfter > 0 {
			drain := make(chan struct{})
			select {
			case s.InputTx <- InputEvent{Drain: drain}:
			case <-ctx.Done():
				return
			}
			select {
			case <-drain:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(step.DelayAfter):
			}
		}

		if preLines != nil {
			if cur := s.Screen.Snapshot().Lines; !equalLines(cur, preLines) {
				break
			}
		}
	}

	var optPtr *int
	if groomOption >= 0 {
		v := groomOption
		optPtr = &v
	}
	subtype := promptSubtype
	s.PromptBus.Publish(PromptOutcome{Source: "groom", Kind: promptKind, Subtype: subtype, Option: optPtr})
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
