package coopapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/session"
)

// StopMode selects how the stop hook responds to an agent trying to end
// its turn.
type StopMode int

const (
	// StopAllow always lets the agent stop.
	StopAllow StopMode = iota
	// StopSignal blocks the agent until it calls ResolveStop (or a signal
	// arrives, or an unrecoverable error occurs), nudging it to report a
	// structured outcome first.
	StopSignal
)

func (m StopMode) String() string {
	if m == StopSignal {
		return "signal"
	}
	return "allow"
}

// StopSchemaField describes one field of a structured stop signal.
type StopSchemaField struct {
	Required     bool
	Enum         []string
	Descriptions map[string]string
	Description  string
}

// StopSchema is the structured shape a signal body must satisfy.
type StopSchema struct {
	Fields map[string]StopSchemaField
}

// StopConfig is the runtime-configurable stop hook policy.
type StopConfig struct {
	Mode   StopMode
	Prompt string
	Schema *StopSchema
}

// StopType classifies why a stop hook call returned the verdict it did,
// for the event stream.
type StopType int

const (
	StopBlocked StopType = iota
	StopAllowed
	StopSignaled
	StopSafetyValve
	StopErrorType
	StopRejected
)

func (t StopType) String() string {
	switch t {
	case StopAllowed:
		return "allowed"
	case StopSignaled:
		return "signaled"
	case StopSafetyValve:
		return "safety_valve"
	case StopErrorType:
		return "error"
	case StopRejected:
		return "rejected"
	default:
		return "blocked"
	}
}

// StopEvent is broadcast whenever the stop hook resolves a verdict.
type StopEvent struct {
	Type   StopType
	Body   map[string]any
	Detail string
	Seq    uint64
}

// StopVerdict is the JSON shape returned to the hook script: an empty
// verdict (both fields absent) means allow, Decision="block" means block.
type StopVerdict struct {
	Decision    string
	Reason      string
	LastMessage string
}

// StopState is the runtime state backing the stop hook: its config, the
// resolve-URL used in block reasons, and the signal/signaled-flag
// plumbing ResolveStop and HandleHooksStop coordinate through.
type StopState struct {
	mu         sync.RWMutex
	config     StopConfig
	resolveURL string

	signaled   atomic.Bool
	signalMu   sync.Mutex
	signalBody map[string]any

	Bus *session.Broadcaster[StopEvent]
	seq atomic.Uint64
}

// NewStopState creates a StopState with the given initial config.
// resolveURL is embedded in generated block reasons so the agent knows
// where to POST its signal.
func NewStopState(config StopConfig, resolveURL string) *StopState {
	return &StopState{config: config, resolveURL: resolveURL, Bus: session.NewBroadcaster[StopEvent]()}
}

// Config returns a copy of the current stop config.
func (s *StopState) Config() StopConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig replaces the stop config.
func (s *StopState) SetConfig(c StopConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = c
}

func (s *StopState) emit(t StopType, body map[string]any, detail string) StopEvent {
	seq := s.seq.Add(1) - 1
	ev := StopEvent{Type: t, Body: body, Detail: detail, Seq: seq}
	s.Bus.Publish(ev)
	return ev
}

// Resolve validates a signal body against the configured schema's
// required fields and enum constraints, then stores it and arms the
// signaled flag so the next HandleHooksStop call allows the stop.
// Returns a list of validation errors (empty slice means accepted).
func (s *StopState) Resolve(body map[string]any) []string {
	config := s.Config()

	var errs []string
	if config.Schema != nil {
		for name, field := range config.Schema.Fields {
			val, ok := body[name]
			if !ok {
				if field.Required {
					errs = append(errs, fmt.Sprintf("missing required field %q", name))
				}
				continue
			}
			if len(field.Enum) == 0 {
				continue
			}
			str, ok := val.(string)
			if !ok || !contains(field.Enum, str) {
				errs = append(errs, fmt.Sprintf("field %q must be one of %v", name, field.Enum))
			}
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return errs
	}

	s.signalMu.Lock()
	s.signalBody = body
	s.signalMu.Unlock()
	s.signaled.Store(true)
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// generateBlockReason composes the message sent back to the agent when
// its stop is blocked: the configured prompt (or a default), the
// resolve URL, and a description of the schema fields to report.
func generateBlockReason(config StopConfig, resolveURL string) string {
	var b strings.Builder

	if config.Prompt != "" {
		b.WriteString(config.Prompt)
	} else {
		b.WriteString("Do not stop yet. Before ending your turn, report your outcome.")
	}
	b.WriteString("\n\n")

	if config.Schema != nil && len(config.Schema.Fields) > 0 {
		names := make([]string, 0, len(config.Schema.Fields))
		for name := range config.Schema.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("Fields:\n")
		for _, name := range names {
			field := config.Schema.Fields[name]
			req := ""
			if field.Required {
				req = " (required)"
			}
			fmt.Fprintf(&b, "- %s%s: %s\n", name, req, field.Description)
			if len(field.Enum) > 0 {
				for _, v := range field.Enum {
					desc := ""
					if field.Descriptions != nil {
						desc = field.Descriptions[v]
					}
					fmt.Fprintf(&b, "  %q: %s\n", v, desc)
				}
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "curl -s -X POST %s -H 'Content-Type: application/json' -d '<json body>'", resolveURL)
	return b.String()
}

// HandleHooksStop runs the five-step stop decision cascade: allow mode,
// safety valve, unrecoverable error, pending signal, then block.
func HandleHooksStop(store *session.Store, stop *StopState, stopHookActive bool) StopVerdict {
	config := stop.Config()
	lastMessage := ""
	if store.LastMessage != nil {
		lastMessage = store.LastMessage.Get()
	}

	if config.Mode == StopAllow {
		stop.emit(StopAllowed, nil, "")
		return StopVerdict{LastMessage: lastMessage}
	}

	if stopHookActive {
		stop.emit(StopSafetyValve, nil, "")
		return StopVerdict{LastMessage: lastMessage}
	}

	if errInfo, ok := store.Error(); ok {
		if errInfo.Category == agentstate.Unauthorized || errInfo.Category == agentstate.OutOfCredits {
			stop.emit(StopErrorType, nil, errInfo.Detail)
			return StopVerdict{LastMessage: lastMessage}
		}
	}

	if stop.signaled.CompareAndSwap(true, false) {
		stop.signalMu.Lock()
		body := stop.signalBody
		stop.signalBody = nil
		stop.signalMu.Unlock()
		stop.emit(StopSignaled, body, "")
		return StopVerdict{LastMessage: lastMessage}
	}

	reason := generateBlockReason(config, stop.resolveURL)
	stop.emit(StopBlocked, nil, "")
	return StopVerdict{Decision: "block", Reason: reason, LastMessage: lastMessage}
}

// ResolveStop validates and stores a signal body submitted by the agent.
// Returns a BadRequest error listing validation failures when the body
// does not satisfy the configured schema.
func ResolveStop(stop *StopState, body map[string]any) *Error {
	if errs := stop.Resolve(body); len(errs) > 0 {
		msg := strings.Join(errs, "; ")
		stop.emit(StopRejected, nil, msg)
		return newError(BadRequest, msg)
	}
	return nil
}
