package session

import (
	"syscall"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/logger"
	"github.com/groblegark/coop-sub001/internal/profile"
)

// runState tracks the loop-local bookkeeping that transition.rs keeps on
// SessionState: it is not part of Store because nothing outside the loop
// goroutine needs to see it.
type runState struct {
	lastState     agentstate.State
	idleSince     time.Time
	idleTimeout   time.Duration
	pendingSwitch *profile.SwitchRequest
	drainDeadline time.Time
	draining      bool
}

// feedOutput writes a PTY output chunk to the ring buffer and screen,
// stamps its ring offset, and broadcasts it raw to attached consumers.
func feedOutput(store *Store, data []byte) {
	offset := store.Ring.Write(data)
	store.Screen.Feed(data)
	store.OutputBus.Publish(OutputEvent{Kind: OutputRaw, Data: data, Offset: offset})
}

// publishTransition advances state_seq, swaps the stored agent state
// under lock, and broadcasts the resulting TransitionEvent. Returns the
// previous state.
func publishTransition(store *Store, next agentstate.State, cause string) agentstate.State {
	store.stateMu.Lock()
	prev := store.agentState
	store.agentState = next
	store.stateMu.Unlock()

	seq := store.stateSeq.Add(1)
	lastMessage := store.LastMessage.Get()
	store.StateBus.Publish(TransitionEvent{
		Prev: prev, Next: next, Seq: seq, Cause: cause,
		LastMessage: lastMessage,
	})
	if store.Events != nil {
		store.Events.PushTransition(prev.Kind.String(), next.Kind.String(), cause, lastMessage, seq)
	}
	return prev
}

// processDetectedState applies one accepted detection sample: updates
// agent_state, error classification + rate-limit rotation, grooming
// spawns, idle tracking, and the pending-switch/drain handoffs. Returns
// true if the loop should break (a drain completed).
func processDetectedState(
	store *Store,
	state agentstate.State,
	tier int,
	cause string,
	rs *runState,
	parser OptionParser,
	encoder RespondEncoder,
	ctxDone <-chan struct{},
) bool {
	if state.Kind == agentstate.Exited && state.Exit != nil {
		if _, ok := store.ExitStatus(); !ok {
			exit := *state.Exit
			store.exitMu.Lock()
			store.exitStatus = &exit
			store.exitMu.Unlock()
		}
	}
	prev := publishTransition(store, state, cause)
	rs.lastState = state

	if prev.Kind == agentstate.Starting && state.Kind != agentstate.Starting {
		store.ready.Store(true)
	}

	store.detMu.Lock()
	store.detection = DetectionInfo{Tier: tier, Cause: cause}
	store.detMu.Unlock()

	if state.Kind == agentstate.Error && state.Err != nil {
		store.errMu.Lock()
		store.err = &ErrorInfo{Detail: state.Err.Detail, Category: state.Err.Category}
		store.errMu.Unlock()

		if state.Err.Category == agentstate.RateLimited {
			handleRateLimit(store, rs)
		}
	} else {
		store.errMu.Lock()
		store.err = nil
		store.errMu.Unlock()
	}

	if state.Kind == agentstate.Prompt && state.Prompt != nil {
		if state.Prompt.Kind == agentstate.PermissionPrompt || state.Prompt.Kind == agentstate.PlanPrompt {
			if parser != nil && !state.Prompt.Ready {
				store.SpawnEnrichment(asContext(ctxDone), store.StateSeq(), parser)
			}
		}
		store.SpawnAutoDismiss(asContext(ctxDone), *state.Prompt, encoder, store.StateSeq())
	}

	if state.Kind == agentstate.Idle && rs.idleTimeout > 0 {
		if rs.idleSince.IsZero() {
			rs.idleSince = time.Now()
		}
	} else {
		rs.idleSince = time.Time{}
	}

	if rs.pendingSwitch != nil && state.Kind == agentstate.Idle {
		cause := "restart"
		if rs.pendingSwitch.Credentials != nil {
			cause = "switch"
		}
		publishTransition(store, agentstate.Simple(agentstate.Restarting), cause)
		rs.lastState = agentstate.Simple(agentstate.Restarting)
		sighupChildGroup(store)
		rs.pendingSwitch = nil
	}

	if rs.draining && state.Kind == agentstate.Idle {
		sighupChildGroup(store)
		return true
	}

	return false
}

// handleRateLimit consults the profile rotator on an Error{RateLimited}
// classification: either queues a switch or parks the session.
func handleRateLimit(store *Store, rs *runState) {
	if store.Profiles == nil || !store.Profiles.HasProfiles() {
		return
	}
	res := store.Profiles.TryAutoRotate()
	switch res.Outcome {
	case profile.Switched:
		rs.pendingSwitch = res.Switch
	case profile.Exhausted:
		resumeAt := time.Now().Add(res.RetryAfter).UnixMilli()
		parked := agentstate.WithParked(agentstate.ParkedInfo{
			Reason:          "all_profiles_rate_limited",
			ResumeAtEpochMS: resumeAt,
		})
		publishTransition(store, parked, "all_profiles_rate_limited")
		rs.lastState = parked
		if store.Profiles.MarkRetryPending() {
			scheduleProfileRetry(store, res.RetryAfter)
		}
	case profile.Skipped:
		logger.Debug("rate limit observed but rotation skipped", "profiles", len(store.Profiles.List()))
	}
}

// scheduleProfileRetry re-invokes TryAutoRotate once delay has elapsed. A
// ripened Switch is delivered back into the session loop via
// store.SwitchRetry (dropped, like the original's try_send, if the loop
// isn't listening); continued exhaustion reschedules another delay.
func scheduleProfileRetry(store *Store, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		res := store.Profiles.TryAutoRotate()
		store.Profiles.ClearRetryPending()
		switch res.Outcome {
		case profile.Switched:
			select {
			case store.SwitchRetry <- res.Switch:
			default:
				logger.Warn("switch retry channel full, dropping ripened profile switch")
			}
		case profile.Exhausted:
			if store.Profiles.MarkRetryPending() {
				scheduleProfileRetry(store, res.RetryAfter)
			}
		}
	}()
}

// broadcastExit stores the exit status (happens-before the Exited
// transition per I3) and publishes the terminal Exited transition.
func broadcastExit(store *Store, code, signal int) {
	status := agentstate.NewExitInfo(code, signal)
	store.exitMu.Lock()
	store.exitStatus = &status
	store.exitMu.Unlock()

	publishTransition(store, agentstate.WithExit(status), "")
}

// sighupChildGroup sends SIGHUP to the child's process group.
func sighupChildGroup(store *Store) {
	pid := store.ChildPID()
	if pid == 0 {
		return
	}
	signalGroup(pid, syscall.SIGHUP)
}

// killSignal is SIGKILL, used for the last-resort shutdown path.
const killSignal = syscall.SIGKILL

// signalGroup sends sig to the negative PID (process group) of pid.
func signalGroup(pid int32, sig syscall.Signal) {
	_ = syscall.Kill(-int(pid), sig)
}

// asContext adapts a plain done-channel into a context.Context for the
// grooming goroutines, which only need cancellation, not values or
// deadlines.
func asContext(done <-chan struct{}) doneContext { return doneContext{done: done} }

type doneContext struct{ done <-chan struct{} }

func (doneContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c doneContext) Done() <-chan struct{}     { return c.done }
func (doneContext) Err() error                  { return nil }
func (doneContext) Value(key any) any           { return nil }
