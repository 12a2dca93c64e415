package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/detect"
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/profile"
	"github.com/groblegark/coop-sub001/internal/ringbuf"
	"github.com/groblegark/coop-sub001/internal/screen"
)

// GroomLevel controls how aggressively the session auto-resolves
// disruption prompts.
type GroomLevel int

const (
	GroomOff GroomLevel = iota
	GroomManual
	GroomAuto
)

// PacingConfig parameterizes the nudge base-delay formula:
// min(Cap, Base + max(0, len-256)*PerByte).
type PacingConfig struct {
	Base    time.Duration
	PerByte time.Duration
	Cap     time.Duration
}

// DefaultPacing matches the teacher's conservative paste-pacing defaults.
func DefaultPacing() PacingConfig {
	return PacingConfig{Base: 30 * time.Millisecond, PerByte: 200 * time.Microsecond, Cap: 2 * time.Second}
}

// NudgeDelay computes the base delay before a nudge's terminating CR for a
// message of length L bytes.
func (p PacingConfig) NudgeDelay(length int) time.Duration {
	d := p.Base
	if length > 256 {
		d += time.Duration(length-256) * p.PerByte
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Config holds session-loop policy knobs, distinct from PTY spawn Config.
type Config struct {
	Groom            GroomLevel
	DismissDelay     time.Duration
	NudgeTimeout     time.Duration
	IdleTimeout      time.Duration
	InputDebounce    time.Duration
	Pacing           PacingConfig
	ScreenDebounce   time.Duration
	BackendWaitGrace time.Duration
}

// DefaultConfig returns session-loop defaults grounded on spec.md §4.6/4.7.
func DefaultConfig() Config {
	return Config{
		Groom:            GroomManual,
		DismissDelay:     500 * time.Millisecond,
		NudgeTimeout:     5 * time.Second,
		IdleTimeout:      0,
		InputDebounce:    50 * time.Millisecond,
		Pacing:           DefaultPacing(),
		ScreenDebounce:   50 * time.Millisecond,
		BackendWaitGrace: 10 * time.Second,
	}
}

// ErrorInfo pairs an error detail with its classified category.
type ErrorInfo struct {
	Detail   string
	Category agentstate.ErrorCategory
}

// DetectionInfo records the tier and cause of the most recently accepted
// detection sample, surfaced to API consumers alongside the agent state.
type DetectionInfo struct {
	Tier  int
	Cause string
}

// Store is the shared application state a session binds together: ring
// buffer, screen model, agent state, profile rotator, event log, and the
// broadcast buses that fan transitions out to attached consumers.
type Store struct {
	stateMu    sync.RWMutex
	agentState agentstate.State
	stateSeq   atomic.Uint64
	ready      atomic.Bool

	errMu sync.RWMutex
	err   *ErrorInfo

	detMu     sync.RWMutex
	detection DetectionInfo

	Ring   *ringbuf.Buffer
	Screen *screen.Model

	childPID atomic.Int32

	exitMu     sync.RWMutex
	exitStatus *agentstate.ExitInfo

	LastMessage *detect.LastMessageCell

	OutputBus *Broadcaster[OutputEvent]
	StateBus  *Broadcaster[TransitionEvent]
	PromptBus *Broadcaster[PromptOutcome]

	Profiles *profile.State
	Events   *eventlog.Log

	// SwitchRetry delivers a ripened profile switch request back into the
	// session loop once a scheduled cooldown retry succeeds; buffered so
	// the delivering goroutine never blocks on a loop that has since exited.
	SwitchRetry chan *profile.SwitchRequest

	Config Config
	Gate   *DeliveryGate

	// InputTx is the channel the session loop reads consumer/groom input
	// from. Set by the caller before New builds the session so grooming tasks can
	// deliver keystrokes through the same pacing path as API clients.
	InputTx chan<- InputEvent

	// NudgeEncoder and RespondEncoder are nil until an agent-specific
	// encoder is attached; coopapi's handle_nudge/handle_respond return
	// ErrorCode NoDriver when the relevant one is absent.
	NudgeEncoder   NudgeEncoder
	RespondEncoder RespondEncoder

	// StartedAt stamps when the session was constructed, for uptime_secs.
	StartedAt time.Time

	envMu      sync.RWMutex
	pendingEnv map[string]string

	bytesWritten atomic.Int64
}

// NewStore wires a fresh Store around a ring buffer and screen model that
// the caller has already sized appropriately.
func NewStore(ring *ringbuf.Buffer, scr *screen.Model, profiles *profile.State, events *eventlog.Log, cfg Config) *Store {
	return &Store{
		agentState:  agentstate.Simple(agentstate.Starting),
		Ring:        ring,
		Screen:      scr,
		LastMessage: &detect.LastMessageCell{},
		OutputBus:   NewBroadcaster[OutputEvent](),
		StateBus:    NewBroadcaster[TransitionEvent](),
		PromptBus:   NewBroadcaster[PromptOutcome](),
		Profiles:    profiles,
		Events:      events,
		SwitchRetry: make(chan *profile.SwitchRequest, 1),
		Config:      cfg,
		Gate:        NewDeliveryGate(cfg.InputDebounce),
		StartedAt:   time.Now(),
		pendingEnv:  make(map[string]string),
	}
}

// PendingEnv returns the env var overrides staged for the next session
// switch (profile rotation / restart), keyed the same way PutPendingEnv
// stores them.
func (s *Store) PendingEnv() map[string]string {
	s.envMu.RLock()
	defer s.envMu.RUnlock()
	out := make(map[string]string, len(s.pendingEnv))
	for k, v := range s.pendingEnv {
		out[k] = v
	}
	return out
}

// PendingEnvValue returns a single staged override, if present.
func (s *Store) PendingEnvValue(key string) (string, bool) {
	s.envMu.RLock()
	defer s.envMu.RUnlock()
	v, ok := s.pendingEnv[key]
	return v, ok
}

// PutPendingEnv stages an env var override to apply on the next switch.
func (s *Store) PutPendingEnv(key, value string) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.pendingEnv[key] = value
}

// DeletePendingEnv removes a staged override, reporting whether one was
// present.
func (s *Store) DeletePendingEnv(key string) bool {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	if _, ok := s.pendingEnv[key]; !ok {
		return false
	}
	delete(s.pendingEnv, key)
	return true
}

// Uptime returns elapsed time since the store was constructed.
func (s *Store) Uptime() time.Duration { return time.Since(s.StartedAt) }

// Bootstrap installs a recovered agent state directly (e.g. the last
// known state from a resumed session log) and marks the store ready,
// bypassing the detection pipeline. Must be called before Run starts
// consuming detector samples; a sample arriving afterwards will
// overwrite it through the normal transition path.
func (s *Store) Bootstrap(state agentstate.State) {
	s.stateMu.Lock()
	s.agentState = state
	s.stateMu.Unlock()
	s.stateSeq.Add(1)
	s.ready.Store(true)
}

// AgentState returns the current agent state.
func (s *Store) AgentState() agentstate.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.agentState
}

// StateSeq returns the sequence number of the last accepted transition.
func (s *Store) StateSeq() uint64 { return s.stateSeq.Load() }

// Ready reports whether the agent has transitioned away from Starting.
func (s *Store) Ready() bool { return s.ready.Load() }

// Error returns the current error detail, if the agent state is Error.
func (s *Store) Error() (ErrorInfo, bool) {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	if s.err == nil {
		return ErrorInfo{}, false
	}
	return *s.err, true
}

// Detection returns the tier/cause of the most recently accepted sample.
func (s *Store) Detection() DetectionInfo {
	s.detMu.RLock()
	defer s.detMu.RUnlock()
	return s.detection
}

// ChildPID returns the spawned child's PID, or 0 before spawn.
func (s *Store) ChildPID() int32 { return s.childPID.Load() }

// SetChildPID records the spawned child's PID.
func (s *Store) SetChildPID(pid int32) { s.childPID.Store(pid) }

// ExitStatus returns the recorded exit status once the child has exited.
func (s *Store) ExitStatus() (agentstate.ExitInfo, bool) {
	s.exitMu.RLock()
	defer s.exitMu.RUnlock()
	if s.exitStatus == nil {
		return agentstate.ExitInfo{}, false
	}
	return *s.exitStatus, true
}

// BytesWritten returns the cumulative count of input bytes forwarded to
// the backend.
func (s *Store) BytesWritten() int64 { return s.bytesWritten.Load() }

// DeliveryGate is an async mutex with debounce: Acquire blocks until at
// least the configured interval has elapsed since the previous release,
// and cancels any pending enter-retry token on each new acquisition.
type DeliveryGate struct {
	mu          sync.Mutex
	held        chan struct{}
	debounce    time.Duration
	lastRelease time.Time
	retryCancel func()
}

// NewDeliveryGate creates a gate with the given debounce interval.
func NewDeliveryGate(debounce time.Duration) *DeliveryGate {
	return &DeliveryGate{debounce: debounce, held: make(chan struct{}, 1)}
}

// Acquire waits for any delivery holding the gate to release it, blocks
// (without holding the gate's internal lock across the sleep) until the
// debounce interval has elapsed since the last release, cancels any
// registered retry token, then returns a release function the caller must
// call when delivery completes.
func (g *DeliveryGate) Acquire() func() {
	g.held <- struct{}{}
	g.mu.Lock()
	wait := g.debounce - time.Since(g.lastRelease)
	if g.retryCancel != nil {
		g.retryCancel()
		g.retryCancel = nil
	}
	g.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return func() {
		g.mu.Lock()
		g.lastRelease = time.Now()
		g.mu.Unlock()
		<-g.held
	}
}

// RegisterRetryToken stores a cancel func to be invoked the next time
// Acquire is called (the enter-retry safety net is superseded by any new
// delivery).
func (g *DeliveryGate) RegisterRetryToken(cancel func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retryCancel != nil {
		g.retryCancel()
	}
	g.retryCancel = cancel
}

// ClearRetryToken removes a previously registered token without invoking
// it (used when the token fires on its own).
func (g *DeliveryGate) ClearRetryToken() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retryCancel = nil
}
