package coopapi

import (
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/groblegark/coop-sub001/internal/session"
	"github.com/groblegark/coop-sub001/internal/transcript"
)

// StartEventConfig is a per-source override of the top-level injection.
type StartEventConfig struct {
	Text  string
	Shell []string
}

// StartConfig is the runtime-configurable start hook policy: static text
// and/or shell commands injected into the agent's context on lifecycle
// events (startup, resume, clear, compact), with per-source overrides.
type StartConfig struct {
	Text  string
	Shell []string
	Event map[string]StartEventConfig
}

// StartState is the runtime state backing the start hook.
type StartState struct {
	mu     sync.RWMutex
	config StartConfig

	Bus *session.Broadcaster[StartEvent]
	seq atomic.Uint64
}

// StartEvent is broadcast whenever the start hook injects a script.
type StartEvent struct {
	Source    string
	SessionID string
	Injected  bool
	Seq       uint64
}

// NewStartState creates a StartState with the given initial config.
func NewStartState(config StartConfig) *StartState {
	return &StartState{config: config, Bus: session.NewBroadcaster[StartEvent]()}
}

// Config returns a copy of the current start config.
func (s *StartState) Config() StartConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig replaces the start config.
func (s *StartState) SetConfig(c StartConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = c
}

func (s *StartState) emit(source, sessionID string, injected bool) StartEvent {
	seq := s.seq.Add(1) - 1
	ev := StartEvent{Source: source, SessionID: sessionID, Injected: injected, Seq: seq}
	s.Bus.Publish(ev)
	return ev
}

// composeStartScript builds the shell script injected for a lifecycle
// event: a per-source override if configured, else the top-level
// text/shell. Text is delivered as a base64-encoded printf so embedded
// quotes and newlines survive the hook's eval.
func composeStartScript(config StartConfig, source string) string {
	text, shell := config.Text, config.Shell
	if override, ok := config.Event[source]; ok {
		text, shell = override.Text, override.Shell
	}

	var parts []string
	if text != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(text))
		parts = append(parts, "printf '%s' '"+encoded+"' | base64 -d")
	}
	for _, cmd := range shell {
		if cmd != "" {
			parts = append(parts, cmd)
		}
	}
	return strings.Join(parts, "\n")
}

// HooksStartInput is the wire-agnostic shape of a start hook call: the
// raw event data map, from which source/session_id are extracted.
type HooksStartInput struct {
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
}

// HandleHooksStart composes the injection script for a lifecycle event,
// clears the stale last-message cache on "clear" (the session log is
// truncated and the old value would mislead), and snapshots a transcript
// before "compact" wipes the session log.
func HandleHooksStart(store *session.Store, start *StartState, transcripts *transcript.State, input HooksStartInput) string {
	source := input.Source
	if source == "" {
		source = "unknown"
	}

	config := start.Config()
	script := composeStartScript(config, source)
	injected := script != ""
	start.emit(source, input.SessionID, injected)

	if source == "clear" && store.LastMessage != nil {
		store.LastMessage.Set("")
	}

	if source == "compact" && transcripts != nil {
		go func() {
			_, _ = transcripts.SaveSnapshot()
		}()
	}

	return script
}
