package coopapi

import (
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/session"
)

// HealthInfo is the result of ComputeHealth.
type HealthInfo struct {
	Status       string
	PID          *int32
	UptimeSecs   int64
	Agent        string
	TerminalCols int
	TerminalRows int
	WSClients    int
	Ready        bool
}

// SessionStatus is the result of ComputeStatus.
type SessionStatus struct {
	State        string
	PID          *int32
	UptimeSecs   int64
	ExitCode     *int
	ScreenSeq    uint64
	BytesRead    int64
	BytesWritten int64
	WSClients    int
}

// NudgeOutcome is the result of HandleNudge. Delivered=false with Reason
// set is a soft failure (agent busy), distinct from the hard ErrorCode
// errors HandleNudge itself returns for not-ready/no-encoder.
type NudgeOutcome struct {
	Delivered   bool
	StateBefore string
	Reason      string
}

// RespondOutcome is the result of HandleRespond.
type RespondOutcome struct {
	Delivered  bool
	PromptType string
	Reason     string
}

// TransportQuestionAnswer is the wire-agnostic shape for one answered
// question in a multi-question dialog; HTTP/WS/gRPC adapters each decode
// their wire format into this before calling HandleRespond.
type TransportQuestionAnswer struct {
	Option *int
	Text   *string
}

func toDomainAnswers(answers []TransportQuestionAnswer) []session.QuestionAnswer {
	out := make([]session.QuestionAnswer, len(answers))
	for i, a := range answers {
		out[i] = session.QuestionAnswer{Option: a.Option, Text: a.Text}
	}
	return out
}

// sessionStateStr mirrors the teacher's session_state_str: Exited reports
// its own state string, otherwise a running child is "running" and an
// unspawned one is "starting".
func sessionStateStr(agent agentstate.State, childPID int32) string {
	if agent.Kind == agentstate.Exited {
		return "exited"
	}
	if childPID == 0 {
		return "starting"
	}
	return "running"
}

func pidPtr(pid int32) *int32 {
	if pid == 0 {
		return nil
	}
	return &pid
}

// ComputeHealth reports a liveness snapshot: whether the session exists
// and is ready, independent of agent-state detail.
func ComputeHealth(store *session.Store, agentName string, wsClients int) HealthInfo {
	snap := store.Screen.Snapshot()
	pid := store.ChildPID()
	return HealthInfo{
		Status:       "running",
		PID:          pidPtr(pid),
		UptimeSecs:   int64(store.Uptime().Seconds()),
		Agent:        agentName,
		TerminalCols: snap.Cols,
		TerminalRows: snap.Rows,
		WSClients:    wsClients,
		Ready:        store.Ready(),
	}
}

// ComputeStatus reports the richer session status: agent state, exit
// info, and I/O counters.
func ComputeStatus(store *session.Store, wsClients int) SessionStatus {
	agent := store.AgentState()
	pid := store.ChildPID()
	snap := store.Screen.Snapshot()

	var exitCode *int
	if exit, ok := store.ExitStatus(); ok {
		exitCode = exit.Code
	}

	return SessionStatus{
		State:        sessionStateStr(agent, pid),
		PID:          pidPtr(pid),
		UptimeSecs:   int64(store.Uptime().Seconds()),
		ExitCode:     exitCode,
		ScreenSeq:    snap.Seq,
		BytesRead:    store.Ring.TotalWritten(),
		BytesWritten: store.BytesWritten(),
		WSClients:    wsClients,
	}
}

// HandleNudge delivers a freeform nudge message to the agent. Returns an
// ErrorCode only for genuine errors (not ready, no nudge encoder
// configured); an agent that is simply busy is reported as a soft
// failure via NudgeOutcome.Delivered=false.
func HandleNudge(store *session.Store, message string) (NudgeOutcome, *Error) {
	if !store.Ready() {
		return NudgeOutcome{}, newError(NotReady, "session is not ready")
	}
	encoder := store.NudgeEncoder
	if encoder == nil {
		return NudgeOutcome{}, newError(NoDriver, "no nudge encoder configured for this agent")
	}

	release := store.Gate.Acquire()
	defer release()

	agent := store.AgentState()
	stateBefore := agent.Kind.String()

	if agent.Kind != agentstate.WaitingForInput {
		return NudgeOutcome{Delivered: false, StateBefore: stateBefore, Reason: "agent is " + stateBefore}, nil
	}

	steps := encoder.Encode(message)
	if !deliverSteps(store, steps) {
		return NudgeOutcome{}, newError(Internal, "session input channel is unavailable")
	}

	return NudgeOutcome{Delivered: true, StateBefore: stateBefore}, nil
}

// HandleRespond answers an active prompt: a permission/setup option, a
// plan decision with optional feedback, or a set of question answers.
// Returns an ErrorCode only for genuine errors (not ready, no respond
// encoder); no active prompt is a soft failure via RespondOutcome.
func HandleRespond(store *session.Store, accept *bool, option *int, text *string, answers []TransportQuestionAnswer) (RespondOutcome, *Error) {
	if !store.Ready() {
		return RespondOutcome{}, newError(NotReady, "session is not ready")
	}
	encoder := store.RespondEncoder
	if encoder == nil {
		return RespondOutcome{}, newError(NoDriver, "no respond encoder configured for this agent")
	}

	domainAnswers := toDomainAnswers(answers)

	release := store.Gate.Acquire()
	defer release()

	agent := store.AgentState()
	if agent.Kind != agentstate.Prompt || agent.Prompt == nil {
		return RespondOutcome{Delivered: false, Reason: "no prompt active"}, nil
	}
	prompt := agent.Prompt
	promptType := prompt.Kind.String()

	steps, ok := encodeResponse(*prompt, encoder, accept, option, text, domainAnswers)
	if !ok {
		return RespondOutcome{Delivered: false, Reason: "no prompt active"}, nil
	}

	if !deliverSteps(store, steps) {
		return RespondOutcome{}, newError(Internal, "session input channel is unavailable")
	}

	return RespondOutcome{Delivered: true, PromptType: promptType}, nil
}

// encodeResponse dispatches to the encoder method matching the active
// prompt's kind, resolving an accept/cancel shorthand against the
// enriched option list when the caller passed a boolean instead of an
// explicit option index.
func encodeResponse(prompt agentstate.PromptContext, encoder session.RespondEncoder, accept *bool, option *int, text *string, answers []session.QuestionAnswer) ([]session.NudgeStep, bool) {
	resolved := option
	if resolved == nil && accept != nil {
		resolved = resolveAcceptOption(prompt, *accept)
	}

	switch prompt.Kind {
	case agentstate.PermissionPrompt:
		if resolved == nil {
			return nil, false
		}
		return encoder.EncodePermission(*resolved), true
	case agentstate.SetupPrompt:
		if resolved == nil {
			return nil, false
		}
		return encoder.EncodeSetup(*resolved), true
	case agentstate.PlanPrompt:
		if resolved == nil {
			return nil, false
		}
		return encoder.EncodePlan(*resolved, text), true
	case agentstate.QuestionPrompt:
		if len(answers) == 0 {
			return nil, false
		}
		total := len(prompt.Questions)
		if total == 0 {
			total = 1
		}
		return encoder.EncodeQuestion(answers, total), true
	default:
		return nil, false
	}
}

// resolveAcceptOption maps a bare accept/cancel boolean onto the
// enriched option list's first ("accept") or last ("cancel") entry, the
// same fallback Accept/Cancel pair SpawnEnrichment installs on timeout.
func resolveAcceptOption(prompt agentstate.PromptContext, accept bool) *int {
	if len(prompt.Options) == 0 {
		return nil
	}
	idx := 1
	if !accept {
		idx = len(prompt.Options)
	}
	return &idx
}

// deliverSteps sends each step's bytes to the session loop's input
// channel, waiting for the backend to drain the write before sleeping
// the step's pacing delay in between. Returns false if the store has no
// input channel wired (not yet started).
func deliverSteps(store *session.Store, steps []session.NudgeStep) bool {
	if store.InputTx == nil {
		return false
	}
	for _, step := range steps {
		store.InputTx <- session.InputEvent{Write: step.Bytes}
		if step.DelayAfter > 0 {
			drain := make(chan struct{})
			store.InputTx <- session.InputEvent{Drain: drain}
			<-drain
			time.Sleep(step.DelayAfter)
		}
	}
	return true
}
