// Package agentstate defines the shared vocabulary (§3 DATA MODEL) used
// by detectors, the composite fuser, the session loop, grooming, and the
// profile rotator: the AgentState sum type, its strict priority ordering,
// and the auxiliary context types it carries.
package agentstate

import "fmt"

// Kind enumerates the agent state sum type. Declaration order doubles as
// the strict priority ordering for tier arbitration (lowest = most
// lenient to overwrite, highest = most committed):
//
//	Starting < Idle < WaitingForInput < Working < Prompt < Parked <
//	Restarting < Error < Exited
type Kind int

const (
	Starting Kind = iota
	Idle
	WaitingForInput
	Working
	Prompt
	Parked
	Restarting
	Error
	Exited
)

func (k Kind) String() string {
	switch k {
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case WaitingForInput:
		return "waiting_for_input"
	case Working:
		return "working"
	case Prompt:
		return "prompt"
	case Parked:
		return "parked"
	case Restarting:
		return "restarting"
	case Error:
		return "error"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Priority returns the tie-break rank for state_priority(state) (§4.5
// escalation rule). Kind's declaration order already matches the spec's
// priority list, so this is just the underlying int.
func (k Kind) Priority() int { return int(k) }

// PromptKind distinguishes the dialog a Prompt state is blocked on.
type PromptKind int

const (
	PermissionPrompt PromptKind = iota
	PlanPrompt
	QuestionPrompt
	SetupPrompt
)

func (k PromptKind) String() string {
	switch k {
	case PermissionPrompt:
		return "permission"
	case PlanPrompt:
		return "plan"
	case QuestionPrompt:
		return "question"
	case SetupPrompt:
		return "setup"
	default:
		return fmt.Sprintf("prompt_kind(%d)", int(k))
	}
}

// Question is one entry of a multi-question dialog (e.g. AskUserQuestion).
type Question struct {
	Text    string
	Options []string
}

// PromptContext carries everything a Prompt state needs: kind, optional
// subtype, option enrichment status, and (for multi-question dialogs) the
// question list and cursor.
type PromptContext struct {
	Kind            PromptKind
	Subtype         string
	Options         []string
	OptionsFallback bool
	Questions       []Question
	QuestionCurrent int
	Ready           bool
}

// Fingerprint identifies "the same dialog moment" across redundant
// evidence sources (§3 Prompt fingerprint), used by enrichment/auto-dismiss
// to detect that a later sample is still about the prompt they spawned on.
type Fingerprint struct {
	Kind      PromptKind
	Subtype   string
	options   string
	questions string
}

func (p *PromptContext) Fingerprint() Fingerprint {
	return Fingerprint{
		Kind:      p.Kind,
		Subtype:   p.Subtype,
		options:   joinStrings(p.Options),
		questions: joinQuestions(p.Questions),
	}
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += "\x00"
		}
		out += s
	}
	return out
}

func joinQuestions(qs []Question) string {
	out := ""
	for i, q := range qs {
		if i > 0 {
			out += "\x01"
		}
		out += q.Text + ":" + joinStrings(q.Options)
	}
	return out
}

// ErrorCategory classifies an Error state for the error taxonomy (§7).
type ErrorCategory int

const (
	Transient ErrorCategory = iota
	RateLimited
	Unauthorized
	OutOfCredits
)

func (c ErrorCategory) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	case OutOfCredits:
		return "out_of_credits"
	default:
		return "transient"
	}
}

// ErrorInfo is stored on an Error state.
type ErrorInfo struct {
	Detail   string
	Category ErrorCategory
}

// ParkedInfo is stored on a Parked state: all profiles rate-limited, a
// scheduled retry is pending.
type ParkedInfo struct {
	Reason          string
	ResumeAtEpochMS int64
}

// ExitInfo is stored on an Exited state. Code and Signal are pointers so
// "not reported" (nil) is distinguishable from 0 (I3 / P4: exit_status
// must be populated before the transition to Exited is observable).
type ExitInfo struct {
	Code   *int
	Signal *int
}

// State is the full tagged value of the agent state sum type: exactly one
// of Prompt/Parked/Err/Exit is meaningful, selected by Kind.
type State struct {
	Kind   Kind
	Prompt *PromptContext
	Parked *ParkedInfo
	Err    *ErrorInfo
	Exit   *ExitInfo
}

// Simple constructs a state with no auxiliary context (Starting, Idle,
// WaitingForInput, Working, Restarting).
func Simple(k Kind) State { return State{Kind: k} }

// WithPrompt constructs a Prompt state.
func WithPrompt(ctx PromptContext) State { return State{Kind: Prompt, Prompt: &ctx} }

// WithParked constructs a Parked state.
func WithParked(info ParkedInfo) State { return State{Kind: Parked, Parked: &info} }

// WithError constructs an Error state.
func WithError(info ErrorInfo) State { return State{Kind: Error, Err: &info} }

// WithExit constructs an Exited state.
func WithExit(info ExitInfo) State { return State{Kind: Exited, Exit: &info} }

func intPtr(v int) *int { return &v }

// NewExitInfo is a convenience constructor taking plain ints; use -1 for
// "not reported".
func NewExitInfo(code, signal int) ExitInfo {
	info := ExitInfo{}
	if code >= 0 {
		info.Code = intPtr(code)
	}
	if signal >= 0 {
		info.Signal = intPtr(signal)
	}
	return info
}

// Equal reports whether two states represent the "same" observable state
// for dedup purposes (§4.5 step 2): same Kind, and for Prompt, the same
// fingerprint.
func (s State) Equal(other State) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == Prompt {
		if s.Prompt == nil || other.Prompt == nil {
			return s.Prompt == other.Prompt
		}
		return s.Prompt.Fingerprint() == other.Prompt.Fingerprint()
	}
	return true
}
